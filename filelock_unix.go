//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package relog

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// lockHeader takes a blocking byte-range lock over the segment header so
// that checkpoint updates are never observed half written by an external
// inspector. Shared locks are used for reads so read-only handles work.
func lockHeader(f *os.File, exclusive bool) error {
	typ := int16(unix.F_RDLCK)
	if exclusive {
		typ = unix.F_WRLCK
	}
	lk := unix.Flock_t{
		Type:   typ,
		Whence: io.SeekStart,
		Start:  0,
		Len:    headerSize,
	}
	for {
		err := unix.FcntlFlock(f.Fd(), unix.F_SETLKW, &lk)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func unlockHeader(f *os.File) error {
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: io.SeekStart,
		Start:  0,
		Len:    headerSize,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk)
}

// tryLockFile takes an exclusive advisory lock over the whole file without
// blocking. It returns ErrLocked when another holder has it.
func tryLockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrLocked
	}
	return err
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
