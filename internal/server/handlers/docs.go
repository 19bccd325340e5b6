// Package handlers implements the HTTP API operations over a docstore.Store.
//
// Each operation has the signature func(context.Context, *Req) (*Resp, error)
// and is adapted to an http.Handler by server.Wrap.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/maruel/docstore/internal/docstore"
	"github.com/maruel/docstore/internal/server/dto"
	"github.com/maruel/ksid"
)

// DocHandler serves documents.
type DocHandler struct {
	store *docstore.Store
}

// NewDocHandler returns a DocHandler over store.
func NewDocHandler(store *docstore.Store) *DocHandler {
	return &DocHandler{store: store}
}

// ListTypes returns the document types present in the store.
func (h *DocHandler) ListTypes(ctx context.Context, req *dto.TypesRequest) (*dto.TypesResponse, error) {
	types, err := h.store.Types()
	if err != nil {
		return nil, dto.InternalWithError("failed to list types", err)
	}
	return &dto.TypesResponse{Types: types}, nil
}

// Query returns the documents of a type, or their number.
func (h *DocHandler) Query(ctx context.Context, req *dto.QueryRequest) (*dto.QueryResponse, error) {
	filter, err := matchers(req.Match, req.Suffix)
	if err != nil {
		return nil, err
	}
	opts := docstore.QueryOptions{Skip: req.Skip, Limit: req.Limit, Descending: req.Descending}
	if req.Count {
		n, err := h.store.Count(req.Type, filter, opts)
		if err != nil {
			return nil, failed("failed to count documents", err)
		}
		return &dto.QueryResponse{Count: &n}, nil
	}
	docs, err := h.store.GetMany(req.Type, filter, opts)
	if err != nil {
		return nil, failed("failed to list documents", err)
	}
	return &dto.QueryResponse{Docs: docs}, nil
}

// IDs returns the ids of every document of a type.
func (h *DocHandler) IDs(ctx context.Context, req *dto.IDsRequest) (*dto.IDsResponse, error) {
	list := h.store.IDs
	if req.Real {
		list = h.store.RealIDs
	}
	ids, err := list(req.Type)
	if err != nil {
		return nil, failed("failed to list ids", err)
	}
	return &dto.IDsResponse{IDs: ids}, nil
}

// Purge removes every document of a type.
func (h *DocHandler) Purge(ctx context.Context, req *dto.PurgeRequest) (*dto.EmptyResponse, error) {
	if err := h.store.Purge(req.Type); err != nil {
		return nil, failed("failed to purge", err)
	}
	return &dto.EmptyResponse{}, nil
}

// Create stores a new document under a generated id.
func (h *DocHandler) Create(ctx context.Context, req *dto.CreateRequest) (*dto.Created, error) {
	doc := req.Doc
	doc[docstore.KeyType] = req.Type
	doc[docstore.KeyID] = ksid.NewID().String()
	if err := h.put(doc); err != nil {
		return nil, err
	}
	c := dto.Created(doc)
	return &c, nil
}

// Get returns one document.
func (h *DocHandler) Get(ctx context.Context, req *dto.GetRequest) (*docstore.Document, error) {
	doc := h.store.Get(req.Type, req.ID)
	if doc == nil {
		return nil, dto.NotFound("document")
	}
	return &doc, nil
}

// Put creates or updates a document and returns it with its new revision.
func (h *DocHandler) Put(ctx context.Context, req *dto.PutRequest) (*docstore.Document, error) {
	doc := req.Doc
	doc[docstore.KeyType] = req.Type
	doc[docstore.KeyID] = req.ID
	if err := h.put(doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Delete removes a document at the given revision.
func (h *DocHandler) Delete(ctx context.Context, req *dto.DeleteRequest) (*dto.EmptyResponse, error) {
	res, err := h.store.Delete(req.Document())
	if err != nil {
		return nil, invalid(err)
	}
	if err := outcome(res); err != nil {
		return nil, err
	}
	return &dto.EmptyResponse{}, nil
}

// put stores doc, which is updated in place with its new revision.
func (h *DocHandler) put(doc docstore.Document) error {
	res, err := h.store.Put(doc, docstore.PutOptions{UpdateRev: true})
	if err != nil {
		return invalid(err)
	}
	return outcome(res)
}

// outcome maps a store Result to the API error, if any.
func outcome(res docstore.Result) error {
	switch res.Status {
	case docstore.StatusOK:
		return nil
	case docstore.StatusConflict:
		return dto.Conflict(res.Current)
	default:
		return dto.Conflict(nil)
	}
}

func invalid(err error) error {
	return failed("failed to store document", err)
}

// failed maps a store error to a 400 for invalid input, else a 500.
func failed(msg string, err error) error {
	for _, target := range []error{docstore.ErrInvalidDocument, docstore.ErrInvalidRevision, docstore.ErrInvalidType, docstore.ErrInvalidID} {
		if errors.Is(err, target) {
			return dto.BadRequest(err.Error())
		}
	}
	return dto.InternalWithError(msg, err)
}

// matchers compiles the id filters of a query.
func matchers(match, suffix []string) ([]docstore.Matcher, error) {
	var filter []docstore.Matcher
	for _, m := range match {
		re, err := regexp.Compile(m)
		if err != nil {
			return nil, dto.BadRequest(fmt.Sprintf("invalid match %q", m)).Wrap(err)
		}
		filter = append(filter, re)
	}
	for _, s := range suffix {
		filter = append(filter, docstore.Suffix(s))
	}
	return filter, nil
}
