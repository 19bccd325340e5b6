// Scans type directories: filtering, pagination and id listings.

package docstore

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Matcher selects document keys during a scan. *regexp.Regexp implements it.
type Matcher interface {
	MatchString(key string) bool
}

// Suffix is a Matcher selecting keys that end with it.
type Suffix string

// MatchString implements Matcher.
func (s Suffix) MatchString(key string) bool {
	return strings.HasSuffix(key, string(s))
}

// QueryOptions configures a scan.
type QueryOptions struct {
	// Skip is the number of selected keys to pass over before fetching.
	Skip int
	// Limit stops the scan once that many documents were collected. 0 means
	// no limit. It does not cap a count.
	Limit int
	// Count makes Query count documents instead of returning them.
	Count bool
	// Descending reverses the filename order.
	Descending bool
}

// Query scans the documents of type typ in filename order and returns the
// documents whose key (filename without extension) matches any of filter, or
// all of them when filter is empty. When opts.Count is set only the number of
// documents is returned.
//
// Documents deleted or corrupted during the scan are silently dropped. A
// missing type directory is not an error.
func (s *Store) Query(typ string, filter []Matcher, opts QueryOptions) ([]Document, int, error) {
	paths, err := s.files(typ)
	if err != nil {
		return nil, 0, err
	}
	slices.SortStableFunc(paths, func(a, b string) int {
		return cmp.Compare(filepath.Base(a), filepath.Base(b))
	})
	if opts.Descending {
		slices.Reverse(paths)
	}

	var docs []Document
	count := 0
	selected := 0
	for _, p := range paths {
		key := keyOf(p)
		if !matchAny(key, filter) {
			continue
		}
		selected++
		if selected <= opts.Skip {
			continue
		}
		doc := s.Get(typ, key)
		if doc == nil {
			continue
		}
		if opts.Count {
			count++
		} else {
			docs = append(docs, doc)
		}
		if opts.Limit > 0 && len(docs) >= opts.Limit {
			break
		}
	}
	if !opts.Count {
		count = len(docs)
	}
	return docs, count, nil
}

// GetMany returns the documents of type typ selected by filter and opts.
// opts.Count is ignored.
func (s *Store) GetMany(typ string, filter []Matcher, opts QueryOptions) ([]Document, error) {
	opts.Count = false
	docs, _, err := s.Query(typ, filter, opts)
	if docs == nil && err == nil {
		docs = []Document{}
	}
	return docs, err
}

// Count returns how many documents of type typ GetMany would fetch, ignoring
// opts.Limit.
func (s *Store) Count(typ string, filter []Matcher, opts QueryOptions) (int, error) {
	opts.Count = true
	_, n, err := s.Query(typ, filter, opts)
	return n, err
}

// IDs returns the sorted ids of type typ, trusting filenames to be the ids.
func (s *Store) IDs(typ string) ([]string, error) {
	paths, err := s.files(typ)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		ids = append(ids, keyOf(p))
	}
	slices.Sort(ids)
	return ids, nil
}

// RealIDs returns the sorted ids of type typ as stored inside each file.
// Unreadable files are skipped.
func (s *Store) RealIDs(typ string) ([]string, error) {
	paths, err := s.files(typ)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p) //nolint:gosec // G304: path comes from a directory scan
		if err != nil {
			continue
		}
		doc := s.decode(p, data)
		if doc == nil {
			continue
		}
		if id, ok := doc[KeyID].(string); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Purge removes every document of type typ. It takes no lock and checks no
// revision; concurrent operations may observe a partial purge.
func (s *Store) Purge(typ string) error {
	if err := CheckType(typ); err != nil {
		return err
	}
	dir := s.TypeDir(typ)
	// Only directories hold documents; a file or link of the same name is
	// kept.
	fi, err := os.Lstat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !fi.IsDir()) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to purge %s: %w", typ, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to purge %s: %w", typ, err)
	}
	return nil
}

// Types returns the sorted names of the type directories.
func (s *Store) Types() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), hiddenPrefix) {
			types = append(types, e.Name())
		}
	}
	return types, nil
}

// files returns the path of every document file under the type directory.
func (s *Store) files(typ string) ([]string, error) {
	if err := CheckType(typ); err != nil {
		return nil, err
	}
	root := s.TypeDir(typ)
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries may vanish under a concurrent delete or purge.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), hiddenPrefix) {
				return fs.SkipDir
			}
			return nil
		}
		if isDocFile(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return paths, nil
}

func matchAny(key string, filter []Matcher) bool {
	if len(filter) == 0 {
		return true
	}
	for _, m := range filter {
		if m.MatchString(key) {
			return true
		}
	}
	return false
}
