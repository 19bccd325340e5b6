// Runs a critical section under an advisory lock on a document file.

package docstore

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gofrs/flock"
)

type lockMode int

const (
	modeCreate lockMode = iota
	modeWrite
	modeRead
	modeDelete
)

func (m lockMode) String() string {
	switch m {
	case modeCreate:
		return "create"
	case modeWrite:
		return "write"
	case modeRead:
		return "read"
	case modeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// existenceChecks is how many times a write re-checks that its file is still
// present once the lock is held. Some filesystems briefly report a file
// deleted by another process as existing.
const existenceChecks = 21

// lockingSupported reports whether advisory locks can be relied upon.
func lockingSupported() bool {
	switch runtime.GOOS {
	case "windows", "plan9", "js", "wasip1":
		return false
	default:
		return true
	}
}

// withLock opens the file of (typ, id) and runs body with it while holding
// the Store mutex and an exclusive advisory lock on the file.
//
// It returns errLockFailed without calling body when typ or id is invalid,
// when the file cannot be opened, when the lock cannot be taken on the file
// that was opened, or, in modeWrite, when the file disappeared while waiting
// for the lock. The lock is released and the file closed on every path;
// failures doing so are logged and otherwise ignored.
func withLock[T any](s *Store, mode lockMode, typ, id string, body func(f *os.File) T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if CheckType(typ) != nil || CheckID(id) != nil {
		return zero, errLockFailed
	}
	dir, name := s.Resolve(typ, id)
	path := filepath.Join(dir, name)

	flag := os.O_RDWR
	if mode == modeCreate {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: shared data directory
			slog.Debug("docstore: failed to create shard directory", "dir", dir, "err", err)
			return zero, errLockFailed
		}
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0o644) //nolint:gosec // G304: path is derived from neutralized names
	if err != nil {
		if mode != modeRead || !os.IsNotExist(err) {
			slog.Debug("docstore: failed to open", "path", path, "mode", mode, "err", err)
		}
		return zero, errLockFailed
	}

	var fl *flock.Flock
	defer func() {
		if fl != nil {
			if err := fl.Unlock(); err != nil {
				slog.Debug("docstore: failed to unlock", "path", path, "err", err)
			}
		}
		if err := f.Close(); err != nil {
			slog.Debug("docstore: failed to close", "path", path, "err", err)
		}
	}()

	if !s.noLock {
		fl = flock.New(path, flock.SetFlag(os.O_RDONLY))
		if err := fl.Lock(); err != nil {
			slog.Debug("docstore: failed to lock", "path", path, "mode", mode, "err", err)
			return zero, errLockFailed
		}
	}

	if mode == modeWrite {
		for range existenceChecks {
			if _, err := os.Stat(path); err != nil {
				return zero, errLockFailed
			}
		}
	}

	if fl != nil && !sameFile(f, path) {
		// The path was deleted or replaced between the open and the lock: the
		// lock does not cover the handle.
		return zero, errLockFailed
	}

	return body(f), nil
}

// sameFile reports whether path still names the file open as f.
func sameFile(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	cur, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, cur)
}
