//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package relog

import (
	"os"
	"sync"
)

// Without fcntl the header lock is a no-op; spool access is serialized
// in-process by the owning writer and reader.
func lockHeader(*os.File, bool) error { return nil }

func unlockHeader(*os.File) error { return nil }

// Lock files are only exclusive within this process on platforms without
// flock.
var (
	heldMu sync.Mutex
	held   = map[string]bool{}
)

func tryLockFile(f *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	if held[f.Name()] {
		return ErrLocked
	}
	held[f.Name()] = true
	return nil
}

func unlockFile(f *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	delete(held, f.Name())
	return nil
}
