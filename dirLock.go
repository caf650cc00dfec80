package relog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// DirLock is an exclusive hold on a spool directory. While it is held no
// other DirLock, in this process or another, can be acquired on Dir.
type DirLock struct {
	// Dir is the directory that was acquired. It is the requested path, or
	// one of its sub_<N> directories when the path was already held.
	Dir string

	f *os.File
}

// FindNotLockedDirectory acquires path for exclusive use. When path is
// already held, it tries the existing sub_<N> directories in ascending
// order and, when all of those are held too, creates sub_<max+1>. Two
// callers therefore never share a directory.
func FindNotLockedDirectory(path string) (*DirLock, error) {
	if len(path) == 0 {
		return nil, errors.New("relog: spool directory required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("relog: failed to create spool directory: %w", err)
	}

	l, err := tryLockDir(path)
	if !errors.Is(err, ErrLocked) {
		return l, err
	}

	subs, err := subDirs(path)
	if err != nil {
		return nil, err
	}
	for _, n := range subs {
		l, err := tryLockDir(filepath.Join(path, subDirPrefix+strconv.Itoa(n)))
		if !errors.Is(err, ErrLocked) {
			return l, err
		}
	}

	// another caller may create the same sub_<N> concurrently; keep going
	next := 1
	if len(subs) > 0 {
		next = subs[len(subs)-1] + 1
	}
	for {
		dir := filepath.Join(path, subDirPrefix+strconv.Itoa(next))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("relog: failed to create spool directory: %w", err)
		}
		l, err := tryLockDir(dir)
		if !errors.Is(err, ErrLocked) {
			return l, err
		}
		next++
	}
}

// LockDirectory acquires exactly dir, returning ErrLocked when it is held.
func LockDirectory(dir string) (*DirLock, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("relog: spool directory: %w", err)
	}
	return tryLockDir(dir)
}

func tryLockDir(dir string) (*DirLock, error) {
	f, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("relog: failed to open lock file: %w", err)
	}
	if err := tryLockFile(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("relog: failed to lock %s: %w", dir, err)
	}
	return &DirLock{Dir: dir, f: f}, nil
}

// subDirs returns the N of every sub_<N> directory in path, ascending.
func subDirs(path string) ([]int, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("relog: failed to read spool directory: %w", err)
	}
	var ns []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		digits, ok := strings.CutPrefix(e.Name(), subDirPrefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(digits)
		if err != nil || n < 1 {
			continue
		}
		ns = append(ns, n)
	}
	slices.Sort(ns)
	return ns, nil
}

// Release gives up the directory. The lock file is left in place for the
// next holder. Release is idempotent.
func (l *DirLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	return errors.Join(unlockFile(f), f.Close())
}
