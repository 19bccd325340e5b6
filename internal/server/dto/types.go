// Request and response types of the HTTP API.

package dto

import (
	"net/http"
	"strconv"

	"github.com/maruel/docstore/internal/docstore"
)

// Validatable is implemented by every request type. The server calls
// Validate after binding the path, query and body.
type Validatable interface {
	Validate() error
}

// EmptyResponse is returned by operations without a payload.
type EmptyResponse struct{}

// Created is a document that was just created; it is sent with 201.
type Created docstore.Document

// StatusCode returns 201.
func (Created) StatusCode() int {
	return http.StatusCreated
}

// HealthRequest is the request of GET /api/health.
type HealthRequest struct{}

// Validate implements Validatable.
func (r *HealthRequest) Validate() error {
	return nil
}

// HealthResponse reports that the server is up.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// TypesRequest is the request of GET /api/v1/types.
type TypesRequest struct{}

// Validate implements Validatable.
func (r *TypesRequest) Validate() error {
	return nil
}

// TypesResponse lists the document types present in the store.
type TypesResponse struct {
	Types []string `json:"types"`
}

// QueryRequest is the request of GET /api/v1/docs/{type}.
type QueryRequest struct {
	Type       string   `path:"type"`
	Skip       int      `query:"skip"`
	Limit      int      `query:"limit"`
	Descending bool     `query:"descending"`
	Count      bool     `query:"count"`
	Match      []string `query:"match"`  // regular expressions on the id key
	Suffix     []string `query:"suffix"` // id key suffixes
}

// Validate implements Validatable.
func (r *QueryRequest) Validate() error {
	if err := checkType(r.Type); err != nil {
		return err
	}
	if r.Skip < 0 {
		return BadRequest("skip must be non-negative")
	}
	if r.Limit < 0 {
		return BadRequest("limit must be non-negative")
	}
	return nil
}

// QueryResponse holds either the documents or, with count=true, their number.
type QueryResponse struct {
	Docs  []docstore.Document `json:"docs,omitzero"`
	Count *int                `json:"count,omitzero"`
}

// IDsRequest is the request of GET /api/v1/docs/{type}/_ids.
type IDsRequest struct {
	Type string `path:"type"`
	// Real reads each file to return the ids as stored instead of the
	// neutralized file names.
	Real bool `query:"real"`
}

// Validate implements Validatable.
func (r *IDsRequest) Validate() error {
	return checkType(r.Type)
}

// IDsResponse lists document ids.
type IDsResponse struct {
	IDs []string `json:"ids"`
}

// PurgeRequest is the request of DELETE /api/v1/docs/{type}.
type PurgeRequest struct {
	Type string `path:"type"`
}

// Validate implements Validatable.
func (r *PurgeRequest) Validate() error {
	return checkType(r.Type)
}

// CreateRequest is the request of POST /api/v1/docs/{type}. The id is
// generated.
type CreateRequest struct {
	Type string            `path:"type"`
	Doc  docstore.Document `body:"doc"`
}

// Validate implements Validatable.
func (r *CreateRequest) Validate() error {
	if err := checkType(r.Type); err != nil {
		return err
	}
	if r.Doc == nil {
		return MissingField("body")
	}
	if _, ok := r.Doc[docstore.KeyRev]; ok {
		return BadRequest("rev must not be set on creation")
	}
	return nil
}

// GetRequest is the request of GET /api/v1/docs/{type}/{id}.
type GetRequest struct {
	Type string `path:"type"`
	ID   string `path:"id"`
}

// Validate implements Validatable.
func (r *GetRequest) Validate() error {
	return checkKey(r.Type, r.ID)
}

// PutRequest is the request of PUT /api/v1/docs/{type}/{id}. The type and id
// of the path replace the ones in the body.
type PutRequest struct {
	Type string            `path:"type"`
	ID   string            `path:"id"`
	Doc  docstore.Document `body:"doc"`
}

// Validate implements Validatable.
func (r *PutRequest) Validate() error {
	if err := checkKey(r.Type, r.ID); err != nil {
		return err
	}
	if r.Doc == nil {
		return MissingField("body")
	}
	return nil
}

// DeleteRequest is the request of DELETE /api/v1/docs/{type}/{id}?rev=N.
type DeleteRequest struct {
	Type string `path:"type"`
	ID   string `path:"id"`
	Rev  string `query:"rev"`

	rev docstore.Rev
}

// Validate implements Validatable.
func (r *DeleteRequest) Validate() error {
	if err := checkKey(r.Type, r.ID); err != nil {
		return err
	}
	if r.Rev == "" {
		return MissingField("rev")
	}
	n, err := strconv.ParseInt(r.Rev, 10, 64)
	if err != nil || n < 0 {
		return BadRequest("rev must be a non-negative integer")
	}
	r.rev = docstore.Rev(n)
	return nil
}

// Document returns the document reference to delete.
func (r *DeleteRequest) Document() docstore.Document {
	return docstore.Document{docstore.KeyType: r.Type, docstore.KeyID: r.ID, docstore.KeyRev: int64(r.rev)}
}

// checkType rejects a type that does not map below the store root.
func checkType(typ string) error {
	if err := docstore.CheckType(typ); err != nil {
		return BadRequest(err.Error()).WithDetail("field", "type")
	}
	return nil
}

func checkKey(typ, id string) error {
	if err := checkType(typ); err != nil {
		return err
	}
	if err := docstore.CheckID(id); err != nil {
		return BadRequest(err.Error()).WithDetail("field", "id")
	}
	return nil
}
