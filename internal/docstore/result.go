package docstore

// Status classifies the outcome of a mutation.
type Status int

const (
	// StatusOK means the write or delete took effect.
	StatusOK Status = iota
	// StatusConflict means the supplied revision did not match; the stored
	// document is in Result.Current.
	StatusConflict
	// StatusFailed means the operation did not take effect and no current
	// version is known: the document vanished, or its file could not be
	// locked or removed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusConflict:
		return "conflict"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of Store.Put or Store.Delete.
type Result struct {
	Status Status
	// Current is set when Status is StatusConflict.
	Current Document
}

// OK reports whether the mutation took effect.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

func resultOK() Result {
	return Result{Status: StatusOK}
}

func resultConflict(cur Document) Result {
	return Result{Status: StatusConflict, Current: cur}
}

func resultFailed() Result {
	return Result{Status: StatusFailed}
}
