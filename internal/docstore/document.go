package docstore

import (
	"encoding/json"
	"fmt"
	"math"
)

// Reserved document keys.
const (
	KeyType = "type"
	KeyID   = "id"
	KeyRev  = "rev"
)

// Rev is a document revision. Stored documents start at 0 and every
// successful update adds 1.
type Rev int64

// NewRev is the revision of a document that was never stored.
const NewRev Rev = -1

// Document is a JSON object with the reserved keys "type", "id" and "rev".
type Document map[string]any

// Type returns the "type" field, or "" when absent or not a string.
func (d Document) Type() string {
	s, _ := d[KeyType].(string)
	return s
}

// ID returns the "id" field, or "" when absent or not a string.
func (d Document) ID() string {
	s, _ := d[KeyID].(string)
	return s
}

// Rev returns the "rev" field. A missing rev is NewRev.
func (d Document) Rev() (Rev, error) {
	return toRev(d[KeyRev])
}

// HasRev reports whether the "rev" key is set to a non-nil value.
func (d Document) HasRev() bool {
	return d[KeyRev] != nil
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// validate checks the fields needed to locate the document on disk.
func (d Document) validate() error {
	for _, k := range []string{KeyType, KeyID} {
		v, ok := d[k]
		if !ok || v == nil {
			return fmt.Errorf("%w: missing value for key %q", ErrInvalidDocument, k)
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %q must be a string, got %T", ErrInvalidDocument, k, v)
		}
		if s == "" {
			return fmt.Errorf("%w: %q is empty", ErrInvalidDocument, k)
		}
		check := CheckType
		if k == KeyID {
			check = CheckID
		}
		if err := check(s); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
	}
	return nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []Document:
		out := make([]Document, len(t))
		for i, e := range t {
			out[i] = e.Clone()
		}
		return out
	default:
		return v
	}
}

// toRev converts a decoded "rev" value. -1 is accepted as NewRev so a document
// previously passed with PutOptions.UpdateRev can be submitted again.
func toRev(v any) (Rev, error) {
	var r int64
	switch n := v.(type) {
	case nil:
		return NewRev, nil
	case Rev:
		r = int64(n)
	case int:
		r = int64(n)
	case int8:
		r = int64(n)
	case int16:
		r = int64(n)
	case int32:
		r = int64(n)
	case int64:
		r = n
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows", ErrInvalidRevision, n)
		}
		r = int64(n)
	case uint8:
		r = int64(n)
	case uint16:
		r = int64(n)
	case uint32:
		r = int64(n)
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows", ErrInvalidRevision, n)
		}
		r = int64(n)
	case float32:
		return toRev(float64(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) || n >= math.MaxInt64 || n < -1 {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidRevision, n)
		}
		r = int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not an integer", ErrInvalidRevision, n)
		}
		r = i
	default:
		return 0, fmt.Errorf("%w: unexpected %T", ErrInvalidRevision, v)
	}
	if r < int64(NewRev) {
		return 0, fmt.Errorf("%w: %d is negative", ErrInvalidRevision, r)
	}
	return Rev(r), nil
}
