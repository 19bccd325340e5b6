package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

// newStore creates a store in the test's temp directory.
func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, s.Dir()
}

func mustPut(t *testing.T, s *Store, doc Document) {
	t.Helper()
	res, err := s.Put(doc, PutOptions{})
	if err != nil {
		t.Fatalf("Put(%v) error = %v", doc, err)
	}
	if !res.OK() {
		t.Fatalf("Put(%v) = %v, want ok", doc, res.Status)
	}
}

func revOf(t *testing.T, doc Document) Rev {
	t.Helper()
	if doc == nil {
		t.Fatal("document is nil")
	}
	r, err := doc.Rev()
	if err != nil {
		t.Fatalf("Rev() error = %v", err)
	}
	return r
}

func john() Document {
	return Document{KeyType: "person", KeyID: "john", "eyes": "green"}
}

func TestNew(t *testing.T) {
	t.Run("default dir", func(t *testing.T) {
		t.Chdir(t.TempDir())
		s, err := New(Options{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if !filepath.IsAbs(s.Dir()) || filepath.Base(s.Dir()) != defaultDir {
			t.Errorf("Dir() = %q, want absolute path ending in %q", s.Dir(), defaultDir)
		}
		if _, err := os.Stat(s.Dir()); !os.IsNotExist(err) {
			t.Errorf("directory should be created lazily, stat err = %v", err)
		}
	})
	t.Run("no lock", func(t *testing.T) {
		s, err := New(Options{Dir: t.TempDir(), NoLock: true})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if s.Locking() {
			t.Error("Locking() = true with NoLock")
		}
	})
}

// numberCodec indents files and keeps numbers as json.Number.
type numberCodec struct{}

func (numberCodec) Marshal(doc Document) ([]byte, error) {
	return json.MarshalIndent(map[string]any(doc), "", "  ")
}

func (numberCodec) Unmarshal(data []byte) (Document, error) {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	var doc Document
	if err := d.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func TestStore_Codec(t *testing.T) {
	s, err := New(Options{Dir: t.TempDir(), Codec: numberCodec{}})
	if err != nil {
		t.Fatal(err)
	}
	mustPut(t, s, Document{KeyType: "item", KeyID: "big", "n": json.Number("9007199254740993")})
	dir, name := s.Resolve("item", "big")
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(raw, []byte("\n  \"")) {
		t.Errorf("file not written by the codec: %s", raw)
	}
	doc := s.Get("item", "big")
	if got := doc["n"]; got != json.Number("9007199254740993") {
		t.Errorf("n = %#v", got)
	}
	if got := revOf(t, doc); got != 0 {
		t.Errorf("rev = %d, want 0", got)
	}
	doc["n"] = json.Number("1")
	res, err := s.Put(doc, PutOptions{})
	if err != nil || !res.OK() {
		t.Fatalf("update = %v, %v", res.Status, err)
	}
	if got := revOf(t, s.Get("item", "big")); got != 1 {
		t.Errorf("rev = %d, want 1", got)
	}
}

func TestStore(t *testing.T) {
	t.Run("Put", func(t *testing.T) {
		t.Run("create", func(t *testing.T) {
			s, dir := newStore(t)
			doc := john()
			res, err := s.Put(doc, PutOptions{})
			if err != nil {
				t.Fatalf("Put error = %v", err)
			}
			if res.Status != StatusOK || res.Current != nil {
				t.Fatalf("Put = %+v, want ok", res)
			}
			if _, ok := doc[KeyRev]; ok {
				t.Error("caller's document was modified")
			}
			if _, err := os.Stat(filepath.Join(dir, "person", "hn", "john.json")); err != nil {
				t.Errorf("document file missing: %v", err)
			}
			got := s.Get("person", "john")
			if revOf(t, got) != 0 {
				t.Errorf("rev = %d, want 0", revOf(t, got))
			}
			if got["eyes"] != "green" || got.Type() != "person" || got.ID() != "john" {
				t.Errorf("Get = %v", got)
			}
		})

		t.Run("create twice conflicts", func(t *testing.T) {
			s, _ := newStore(t)
			mustPut(t, s, john())
			brown := john()
			brown["eyes"] = "brown"
			res, err := s.Put(brown, PutOptions{})
			if err != nil {
				t.Fatalf("Put error = %v", err)
			}
			if res.Status != StatusConflict {
				t.Fatalf("Status = %v, want conflict", res.Status)
			}
			if revOf(t, res.Current) != 0 || res.Current["eyes"] != "green" {
				t.Errorf("Current = %v, want green at rev 0", res.Current)
			}
			if got := s.Get("person", "john"); got["eyes"] != "green" {
				t.Errorf("stored eyes = %v, want green", got["eyes"])
			}
		})

		t.Run("update", func(t *testing.T) {
			s, _ := newStore(t)
			mustPut(t, s, john())
			blue := john()
			blue["eyes"] = "blue"
			blue[KeyRev] = 0
			mustPut(t, s, blue)
			got := s.Get("person", "john")
			if revOf(t, got) != 1 || got["eyes"] != "blue" {
				t.Errorf("Get = %v, want blue at rev 1", got)
			}
		})

		t.Run("stale rev conflicts identically", func(t *testing.T) {
			s, _ := newStore(t)
			mustPut(t, s, john())
			up := john()
			up[KeyRev] = 0
			mustPut(t, s, up)

			var currents []Document
			for range 2 {
				stale := john()
				stale["eyes"] = "red"
				stale[KeyRev] = 0
				res, err := s.Put(stale, PutOptions{})
				if err != nil {
					t.Fatalf("Put error = %v", err)
				}
				if res.Status != StatusConflict {
					t.Fatalf("Status = %v, want conflict", res.Status)
				}
				currents = append(currents, res.Current)
			}
			if !reflect.DeepEqual(currents[0], currents[1]) {
				t.Errorf("conflicts differ: %v vs %v", currents[0], currents[1])
			}
			if revOf(t, currents[0]) != 1 {
				t.Errorf("current rev = %d, want 1", revOf(t, currents[0]))
			}
		})

		t.Run("gone", func(t *testing.T) {
			s, dir := newStore(t)
			mustPut(t, s, john())
			del := Document{KeyType: "person", KeyID: "john", KeyRev: 0}
			if res, err := s.Delete(del); err != nil || !res.OK() {
				t.Fatalf("Delete = %+v, %v", res, err)
			}
			if got := s.Get("person", "john"); got != nil {
				t.Fatalf("Get after delete = %v", got)
			}
			up := john()
			up[KeyRev] = 0
			res, err := s.Put(up, PutOptions{})
			if err != nil {
				t.Fatalf("Put error = %v", err)
			}
			if res.Status != StatusFailed || res.Current != nil {
				t.Errorf("Put = %+v, want failed", res)
			}
			if _, err := os.Stat(filepath.Join(dir, "person", "hn", "john.json")); !os.IsNotExist(err) {
				t.Errorf("file recreated, stat err = %v", err)
			}
		})

		t.Run("recreate restarts at zero", func(t *testing.T) {
			s, _ := newStore(t)
			mustPut(t, s, john())
			up := john()
			up[KeyRev] = 0
			mustPut(t, s, up)
			if res, err := s.Delete(Document{KeyType: "person", KeyID: "john", KeyRev: 1}); err != nil || !res.OK() {
				t.Fatalf("Delete = %+v, %v", res, err)
			}
			mustPut(t, s, john())
			if got := revOf(t, s.Get("person", "john")); got != 0 {
				t.Errorf("rev = %d, want 0", got)
			}
		})

		t.Run("UpdateRev", func(t *testing.T) {
			s, _ := newStore(t)
			doc := john()
			for want := range Rev(5) {
				res, err := s.Put(doc, PutOptions{UpdateRev: true})
				if err != nil || !res.OK() {
					t.Fatalf("Put #%d = %+v, %v", want, res, err)
				}
				if got := revOf(t, doc); got != want {
					t.Fatalf("doc rev = %d, want %d", got, want)
				}
				if got := revOf(t, s.Get("person", "john")); got != want {
					t.Fatalf("stored rev = %d, want %d", got, want)
				}
			}
		})

		t.Run("UpdateRev keeps rev on conflict", func(t *testing.T) {
			s, _ := newStore(t)
			mustPut(t, s, john())
			doc := john()
			res, err := s.Put(doc, PutOptions{UpdateRev: true})
			if err != nil || res.Status != StatusConflict {
				t.Fatalf("Put = %+v, %v", res, err)
			}
			if got := revOf(t, doc); got != NewRev {
				t.Errorf("doc rev = %d, want NewRev", got)
			}
		})

		t.Run("round trip of fetched document", func(t *testing.T) {
			s, _ := newStore(t)
			mustPut(t, s, john())
			for want := Rev(1); want <= 3; want++ {
				doc := s.Get("person", "john")
				doc["n"] = float64(want)
				if res, err := s.Put(doc, PutOptions{UpdateRev: true}); err != nil || !res.OK() {
					t.Fatalf("Put = %+v, %v", res, err)
				}
				if got := revOf(t, doc); got != want {
					t.Fatalf("rev = %d, want %d", got, want)
				}
			}
		})

		t.Run("small id", func(t *testing.T) {
			s, _ := newStore(t)
			mustPut(t, s, Document{KeyType: "person", KeyID: "0", "eyes": "green"})
			if s.Get("person", "0") == nil {
				t.Error("Get returned nil")
			}
		})

		t.Run("corrupt file is overwritten by create", func(t *testing.T) {
			s, _ := newStore(t)
			writeRaw(t, s, "person", "john", "{not json")
			mustPut(t, s, john())
			if got := revOf(t, s.Get("person", "john")); got != 0 {
				t.Errorf("rev = %d, want 0", got)
			}
		})

		t.Run("errors", func(t *testing.T) {
			s, _ := newStore(t)
			tests := []struct {
				name string
				doc  Document
				want error
			}{
				{"missing type", Document{KeyID: "john", "eyes": "shut"}, ErrInvalidDocument},
				{"missing id", Document{KeyType: "person"}, ErrInvalidDocument},
				{"string rev", Document{KeyType: "person", KeyID: "john", KeyRev: "0"}, ErrInvalidRevision},
				{"negative rev", Document{KeyType: "person", KeyID: "john", KeyRev: -3}, ErrInvalidRevision},
				{"fractional rev", Document{KeyType: "person", KeyID: "john", KeyRev: 0.5}, ErrInvalidRevision},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					_, err := s.Put(tt.doc, PutOptions{})
					if !errors.Is(err, tt.want) {
						t.Errorf("Put error = %v, want %v", err, tt.want)
					}
				})
			}
			if types, _ := s.Types(); len(types) != 0 {
				t.Errorf("invalid puts created %v", types)
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		s, _ := newStore(t)
		tests := []struct {
			name  string
			setup func(t *testing.T)
			typ   string
			id    string
			want  bool
		}{
			{"missing", func(*testing.T) {}, "person", "nobody", false},
			{"missing type directory", func(*testing.T) {}, "ghost", "john", false},
			{"stored", func(t *testing.T) { mustPut(t, s, john()) }, "person", "john", true},
			{"corrupt", func(t *testing.T) { writeRaw(t, s, "person", "bad", "[1") }, "person", "bad", false},
			{"empty", func(t *testing.T) { writeRaw(t, s, "person", "void", "") }, "person", "void", false},
			{"not an object", func(t *testing.T) { writeRaw(t, s, "person", "arr", "[1,2]") }, "person", "arr", false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tt.setup(t)
				got := s.Get(tt.typ, tt.id)
				if (got != nil) != tt.want {
					t.Errorf("Get(%q, %q) = %v, want found=%v", tt.typ, tt.id, got, tt.want)
				}
			})
		}
	})

	t.Run("Delete", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			s, dir := newStore(t)
			mustPut(t, s, john())
			res, err := s.Delete(Document{KeyType: "person", KeyID: "john", KeyRev: 0})
			if err != nil || res.Status != StatusOK {
				t.Fatalf("Delete = %+v, %v", res, err)
			}
			if _, err := os.Stat(filepath.Join(dir, "person", "hn", "john.json")); !os.IsNotExist(err) {
				t.Errorf("file still present, stat err = %v", err)
			}
			if got := s.Get("person", "john"); got != nil {
				t.Errorf("Get after delete = %v", got)
			}
		})

		t.Run("stale rev", func(t *testing.T) {
			s, _ := newStore(t)
			mustPut(t, s, john())
			up := john()
			up[KeyRev] = 0
			mustPut(t, s, up)
			res, err := s.Delete(Document{KeyType: "person", KeyID: "john", KeyRev: 0})
			if err != nil {
				t.Fatalf("Delete error = %v", err)
			}
			if res.Status != StatusConflict || revOf(t, res.Current) != 1 {
				t.Errorf("Delete = %+v, want conflict at rev 1", res)
			}
			if s.Get("person", "john") == nil {
				t.Error("document was deleted")
			}
		})

		t.Run("missing", func(t *testing.T) {
			s, _ := newStore(t)
			res, err := s.Delete(Document{KeyType: "person", KeyID: "john", "eyes": "green", KeyRev: 7})
			if err != nil {
				t.Fatalf("Delete error = %v", err)
			}
			if res.Status != StatusFailed {
				t.Errorf("Status = %v, want failed", res.Status)
			}
		})

		t.Run("corrupt counts as deleted", func(t *testing.T) {
			s, _ := newStore(t)
			writeRaw(t, s, "person", "john", "garbage")
			res, err := s.Delete(Document{KeyType: "person", KeyID: "john", KeyRev: 0})
			if err != nil || res.Status != StatusOK {
				t.Errorf("Delete = %+v, %v, want ok", res, err)
			}
		})

		t.Run("errors", func(t *testing.T) {
			s, _ := newStore(t)
			mustPut(t, s, john())
			tests := []struct {
				name string
				doc  Document
				want error
			}{
				{"without rev", Document{KeyType: "person", KeyID: "john"}, ErrInvalidDocument},
				{"null rev", Document{KeyType: "person", KeyID: "john", KeyRev: nil}, ErrInvalidDocument},
				{"bad rev", Document{KeyType: "person", KeyID: "john", KeyRev: "x"}, ErrInvalidRevision},
				{"without id", Document{KeyType: "person", KeyRev: 0}, ErrInvalidDocument},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					if _, err := s.Delete(tt.doc); !errors.Is(err, tt.want) {
						t.Errorf("Delete error = %v, want %v", err, tt.want)
					}
				})
			}
			if s.Get("person", "john") == nil {
				t.Error("invalid delete removed the document")
			}
		})
	})

	t.Run("NoLock", func(t *testing.T) {
		s, err := New(Options{Dir: t.TempDir(), NoLock: true})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		mustPut(t, s, john())
		up := john()
		up[KeyRev] = 0
		mustPut(t, s, up)
		if got := revOf(t, s.Get("person", "john")); got != 1 {
			t.Errorf("rev = %d, want 1", got)
		}
	})

	t.Run("shared directory", func(t *testing.T) {
		s1, dir := newStore(t)
		s2, err := New(Options{Dir: dir})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		mustPut(t, s1, john())
		got := s2.Get("person", "john")
		if revOf(t, got) != 0 {
			t.Fatalf("second store sees rev %d", revOf(t, got))
		}
		mustPut(t, s2, got)
		if r := revOf(t, s1.Get("person", "john")); r != 1 {
			t.Errorf("first store sees rev %d, want 1", r)
		}
	})
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	s, _ := newStore(t)
	mustPut(t, s, Document{KeyType: "counter", KeyID: "shared", "n": 0.0})

	const workers, increments = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Go(func() {
			for range increments {
				if err := increment(s, "counter", "shared"); err != nil {
					errs <- err
					return
				}
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	checkCounter(t, s, workers*increments)
}

// writeRaw stores content as the file of (typ, id), bypassing the store.
func writeRaw(t *testing.T, s *Store, typ, id, content string) {
	t.Helper()
	dir, name := s.Resolve(typ, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStore_Numbers(t *testing.T) {
	s, _ := newStore(t)
	doc := Document{
		KeyType: "item",
		KeyID:   "big",
		"v":     int64(1<<53 + 1),
		"neg":   int64(-(1<<53 + 1)),
		"f":     1.25,
		"list":  []any{int64(1<<62 + 1)},
	}
	mustPut(t, s, doc)
	got := s.Get("item", "big")
	want := map[string]any{
		"v":    json.Number("9007199254740993"),
		"neg":  json.Number("-9007199254740993"),
		"f":    json.Number("1.25"),
		"list": []any{json.Number("4611686018427387905")},
	}
	for k, w := range want {
		if !reflect.DeepEqual(got[k], w) {
			t.Errorf("%s = %#v, want %#v", k, got[k], w)
		}
	}
	if r := revOf(t, got); r != 0 {
		t.Errorf("rev = %d, want 0", r)
	}

	// A fetched document goes back unchanged apart from its rev.
	res, err := s.Put(got, PutOptions{})
	if err != nil || !res.OK() {
		t.Fatalf("Put = %v, %v", res.Status, err)
	}
	again := s.Get("item", "big")
	if again["v"] != json.Number("9007199254740993") || revOf(t, again) != 1 {
		t.Errorf("after update: %v", again)
	}
}

func TestStore_InvalidNames(t *testing.T) {
	parent := t.TempDir()
	sentinel := filepath.Join(parent, "keep.txt")
	if err := os.WriteFile(sentinel, []byte("keep"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := New(Options{Dir: filepath.Join(parent, "root")})
	if err != nil {
		t.Fatal(err)
	}
	mustPut(t, s, john())

	for _, typ := range []string{" . ", ".", "..", " .. ", "  "} {
		t.Run("type "+typ, func(t *testing.T) {
			_, err := s.Put(Document{KeyType: typ, KeyID: "outside"}, PutOptions{})
			if !errors.Is(err, ErrInvalidDocument) || !errors.Is(err, ErrInvalidType) {
				t.Errorf("Put error = %v, want ErrInvalidDocument and ErrInvalidType", err)
			}
			_, err = s.Delete(Document{KeyType: typ, KeyID: "outside", KeyRev: 0})
			if !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("Delete error = %v, want ErrInvalidDocument", err)
			}
			if doc := s.Get(typ, "john"); doc != nil {
				t.Errorf("Get = %v, want nil", doc)
			}
			if err := s.Purge(typ); !errors.Is(err, ErrInvalidType) {
				t.Errorf("Purge error = %v, want ErrInvalidType", err)
			}
			if _, err := s.IDs(typ); !errors.Is(err, ErrInvalidType) {
				t.Errorf("IDs error = %v, want ErrInvalidType", err)
			}
			if _, err := s.RealIDs(typ); !errors.Is(err, ErrInvalidType) {
				t.Errorf("RealIDs error = %v, want ErrInvalidType", err)
			}
			if _, err := s.GetMany(typ, nil, QueryOptions{}); !errors.Is(err, ErrInvalidType) {
				t.Errorf("GetMany error = %v, want ErrInvalidType", err)
			}
			if _, err := s.Count(typ, nil, QueryOptions{}); !errors.Is(err, ErrInvalidType) {
				t.Errorf("Count error = %v, want ErrInvalidType", err)
			}
		})
	}

	for _, id := range []string{"", "  ", ".", " .. "} {
		t.Run("id "+id, func(t *testing.T) {
			_, err := s.Put(Document{KeyType: "person", KeyID: id}, PutOptions{})
			if !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("Put error = %v, want ErrInvalidDocument", err)
			}
			if doc := s.Get("person", id); doc != nil {
				t.Errorf("Get = %v, want nil", doc)
			}
		})
	}

	if _, err := os.Stat(sentinel); err != nil {
		t.Errorf("file next to the root: %v", err)
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("entries next to the root = %v, want keep.txt and root", entries)
	}
	ids, err := s.IDs("person")
	if err != nil || !reflect.DeepEqual(ids, []string{"john"}) {
		t.Errorf("IDs = %v, %v", ids, err)
	}
}

func TestPurge_KeepsFiles(t *testing.T) {
	s, dir := newStore(t)
	mustPut(t, s, john())
	cfg := filepath.Join(dir, "docstore.yaml")
	if err := os.WriteFile(cfg, []byte("no_lock: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Purge("docstore.yaml"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg); err != nil {
		t.Errorf("purge removed a file: %v", err)
	}
	if s.Get("person", "john") == nil {
		t.Error("purge of another type removed a document")
	}
}
