package docstore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const defaultDir = "docstore"

// Options configures a Store.
type Options struct {
	// Dir is the root directory. Defaults to "docstore" in the working
	// directory. It is created lazily by the first write.
	Dir string
	// NoLock disables advisory file locks. Locks are always disabled on
	// platforms where they are unreliable.
	NoLock bool
	// Codec serializes documents. Defaults to JSONCodec.
	Codec Codec
}

// Store is a file-backed document store.
//
// A Store is safe for concurrent use: its operations are serialized. Several
// processes may share a directory; they coordinate through file locks.
type Store struct {
	dir    string
	noLock bool
	codec  Codec
	mu     sync.Mutex
}

// New returns a Store rooted at opts.Dir.
func New(opts Options) (*Store, error) {
	dir := opts.Dir
	if dir == "" {
		dir = defaultDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Store{
		dir:    abs,
		noLock: opts.NoLock || !lockingSupported(),
		codec:  codec,
	}, nil
}

// Dir returns the absolute root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Locking reports whether advisory file locks are used.
func (s *Store) Locking() bool {
	return !s.noLock
}

// PutOptions configures Store.Put.
type PutOptions struct {
	// UpdateRev makes Put work on doc itself instead of a copy: on success
	// doc["rev"] holds the new revision.
	UpdateRev bool
}

// Put stores doc if its "rev" matches the stored revision, or if doc has no
// "rev" and no document is stored yet.
//
// Only malformed input returns an error. A rejected write returns a Result
// with StatusConflict and the stored document, or StatusFailed when the
// document vanished or its file could not be locked.
func (s *Store) Put(doc Document, opts PutOptions) (Result, error) {
	if !opts.UpdateRev {
		doc = doc.Clone()
	}
	if err := doc.validate(); err != nil {
		return Result{}, err
	}
	rev, err := doc.Rev()
	if err != nil {
		return Result{}, err
	}
	doc[KeyRev] = int64(rev)
	typ, id := doc.Type(), doc.ID()

	mode := modeWrite
	if rev == NewRev {
		mode = modeCreate
	}
	type outcome struct {
		res Result
		err error
	}
	out, err := withLock(s, mode, typ, id, func(f *os.File) outcome {
		cur := s.read(f)
		if cur != nil {
			curRev, err := cur.Rev()
			if err != nil || curRev != rev {
				return outcome{res: resultConflict(cur)}
			}
		} else if rev != NewRev {
			return outcome{res: resultFailed()}
		}
		next := rev + 1
		doc[KeyRev] = int64(next)
		data, err := s.codec.Marshal(doc)
		if err != nil {
			doc[KeyRev] = int64(rev)
			return outcome{err: fmt.Errorf("failed to encode %s/%s: %w", typ, id, err)}
		}
		if err := rewrite(f, data); err != nil {
			doc[KeyRev] = int64(rev)
			return outcome{err: fmt.Errorf("failed to write %s: %w", f.Name(), err)}
		}
		return outcome{res: resultOK()}
	})
	if err != nil {
		slog.Debug("docstore: put could not lock its document", "type", typ, "id", id, "rev", rev)
		return resultFailed(), nil
	}
	return out.res, out.err
}

// Get returns the stored document, or nil when it is absent or unreadable.
func (s *Store) Get(typ, id string) Document {
	doc, err := withLock(s, modeRead, typ, id, s.read)
	if err != nil {
		return nil
	}
	return doc
}

// Delete removes the stored document if doc["rev"] matches its revision.
//
// doc must carry "type", "id" and "rev". Deleting a document that is already
// gone but whose file still exists (corrupt) succeeds. A document whose file
// does not exist, or whose file cannot be removed, returns StatusFailed.
func (s *Store) Delete(doc Document) (Result, error) {
	if !doc.HasRev() {
		return Result{}, fmt.Errorf("%w: cannot delete without %q", ErrInvalidDocument, KeyRev)
	}
	if err := doc.validate(); err != nil {
		return Result{}, err
	}
	rev, err := doc.Rev()
	if err != nil {
		return Result{}, err
	}
	typ, id := doc.Type(), doc.ID()

	res, err := withLock(s, modeDelete, typ, id, func(f *os.File) Result {
		cur := s.read(f)
		if cur == nil {
			return resultOK()
		}
		if curRev, err := cur.Rev(); err != nil || curRev != rev {
			return resultConflict(cur)
		}
		if err := os.Remove(f.Name()); err != nil {
			slog.Debug("docstore: failed to remove", "path", f.Name(), "err", err)
			return resultFailed()
		}
		return resultOK()
	})
	if err != nil {
		return resultFailed(), nil
	}
	return res, nil
}

// read decodes the document open as f, or returns nil when it cannot.
func (s *Store) read(f *os.File) Document {
	data, err := io.ReadAll(f)
	if err != nil {
		slog.Debug("docstore: failed to read", "path", f.Name(), "err", err)
		return nil
	}
	return s.decode(f.Name(), data)
}

func (s *Store) decode(path string, data []byte) Document {
	if len(data) == 0 {
		return nil
	}
	doc, err := s.codec.Unmarshal(data)
	if err != nil {
		slog.Debug("docstore: ignoring corrupt document", "path", path, "err", err)
		return nil
	}
	return doc
}

// rewrite replaces the content of f.
func rewrite(f *os.File, data []byte) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}
