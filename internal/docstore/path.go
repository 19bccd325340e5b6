// Maps (type, id) pairs to directories and filenames.

package docstore

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	fileExt      = ".json"
	defaultType  = "no_type"
	shardLen     = 2
	unsafeChars  = " /:;*\\+?"
	trimChars    = "\x00\t\n\v\f\r "
	neutralRune  = '_'
	shardDotRune = 'Z'
	hiddenPrefix = "."
)

// Neutralize makes s safe to use as a path element: surrounding ASCII
// whitespace and NUL bytes are trimmed and each of " /:;*\+?" becomes '_'.
// Other Unicode spaces are kept.
func Neutralize(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeChars, r) {
			return neutralRune
		}
		return r
	}, strings.Trim(s, trimChars))
}

// validName reports whether a neutralized name is a single path element that
// stays below its parent.
func validName(n string) bool {
	return n != "" && n != "." && n != ".."
}

// CheckType returns ErrInvalidType when typ does not name a directory below
// the store root, e.g. " .. ". The empty type maps to "no_type" and is valid.
func CheckType(typ string) error {
	if typ != "" && !validName(Neutralize(typ)) {
		return fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	return nil
}

// CheckID returns ErrInvalidID when id neutralizes to nothing usable as a
// file name, e.g. blanks only.
func CheckID(id string) error {
	if !validName(Neutralize(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// shard returns the subdirectory bucket for a neutralized id: its last two
// characters with '.' replaced by 'Z', or the whole id when shorter.
func shard(nid string) string {
	r := []rune(nid)
	if len(r) >= shardLen {
		r = r[len(r)-shardLen:]
	}
	return strings.ReplaceAll(string(r), ".", string(shardDotRune))
}

// TypeDir returns the directory holding every document of type typ. Callers
// check typ with CheckType first.
func (s *Store) TypeDir(typ string) string {
	if typ == "" {
		typ = defaultType
	}
	return filepath.Join(s.dir, Neutralize(typ))
}

// Resolve returns the directory and filename of a document.
func (s *Store) Resolve(typ, id string) (dir, name string) {
	nid := Neutralize(id)
	return filepath.Join(s.TypeDir(typ), shard(nid)), nid + fileExt
}

// keyOf returns the scan key of a document file: its name without extension.
func keyOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), fileExt)
}

func isDocFile(name string) bool {
	return strings.HasSuffix(name, fileExt) && !strings.HasPrefix(name, hiddenPrefix)
}

// FileKey returns the neutralized id stored in the file at path, or false
// when path is not a document file.
func FileKey(path string) (string, bool) {
	if !isDocFile(filepath.Base(path)) {
		return "", false
	}
	return keyOf(path), true
}
