// Adapts typed handler functions to http.Handler.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/maruel/docstore/internal/server/dto"
	"github.com/maruel/docstore/internal/server/ratelimit"
)

// Wrap adapts fn to an http.Handler.
//
// The request struct is bound in this order:
//   - fields tagged `path:"name"` from r.PathValue;
//   - fields tagged `query:"name"` from the query string (string, int, bool
//     and []string fields);
//   - the JSON body, decoded into the field tagged `body:"..."` when there is
//     one, else into the struct itself with unknown fields rejected.
//
// The body is limited to maxBody bytes when positive. Validate is called
// before fn. The response is fn's output encoded as JSON with status 200, or
// the status returned by its StatusCode method.
//
// Example:
//
//	type GetRequest struct {
//	    Type string `path:"type"`
//	    ID   string `path:"id"`
//	}
//
//	func (h *DocHandler) Get(ctx context.Context, req *GetRequest) (*docstore.Document, error)
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), maxBody int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		input := PtrIn(new(In))
		if err := bind(w, r, input, maxBody); err != nil {
			writeError(ctx, w, err)
			return
		}
		if err := input.Validate(); err != nil {
			writeError(ctx, w, err)
			return
		}
		output, err := fn(ctx, input)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		status := http.StatusOK
		if s, ok := any(output).(interface{ StatusCode() int }); ok {
			status = s.StatusCode()
		}
		writeJSON(ctx, w, status, output)
	})
}

// bind populates input from the request.
func bind(w http.ResponseWriter, r *http.Request, input any, maxBody int64) error {
	elem := reflect.ValueOf(input).Elem()
	if elem.Kind() != reflect.Struct {
		return fmt.Errorf("request type %T is not a struct pointer", input)
	}
	populatePathParams(r, elem)
	if err := populateQueryParams(r, elem); err != nil {
		return err
	}
	return decodeBody(w, r, elem, maxBody)
}

// populatePathParams sets string fields tagged `path:"name"`.
func populatePathParams(r *http.Request, elem reflect.Value) {
	typ := elem.Type()
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("path")
		if tag == "" || typ.Field(i).Type.Kind() != reflect.String {
			continue
		}
		elem.Field(i).SetString(r.PathValue(tag))
	}
}

// populateQueryParams sets fields tagged `query:"name"`. Malformed values are
// a validation error.
func populateQueryParams(r *http.Request, elem reflect.Value) error {
	query := r.URL.Query()
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("query")
		if tag == "" || !query.Has(tag) {
			continue
		}
		v := query.Get(tag)
		//nolint:exhaustive // Only the kinds used by dto are supported.
		switch field.Type.Kind() {
		case reflect.String:
			elem.Field(i).SetString(v)
		case reflect.Int:
			n, err := strconv.Atoi(v)
			if err != nil {
				return dto.BadRequest(tag + " must be an integer")
			}
			elem.Field(i).SetInt(int64(n))
		case reflect.Bool:
			// A bare "?count" means true.
			b := true
			if v != "" {
				var err error
				if b, err = strconv.ParseBool(v); err != nil {
					return dto.BadRequest(tag + " must be a boolean")
				}
			}
			elem.Field(i).SetBool(b)
		case reflect.Slice:
			if field.Type.Elem().Kind() == reflect.String {
				elem.Field(i).Set(reflect.ValueOf(query[tag]))
			}
		default:
		}
	}
	return nil
}

// decodeBody decodes the JSON body, if any.
func decodeBody(w http.ResponseWriter, r *http.Request, elem reflect.Value, maxBody int64) error {
	if r.Body == nil {
		return nil
	}
	if maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return dto.PayloadTooLarge(maxBytesErr.Limit)
		}
		return dto.BadRequest("failed to read request body").Wrap(err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	d := json.NewDecoder(bytes.NewReader(body))
	target := elem.Addr().Interface()
	if f, ok := bodyField(elem); ok {
		// Documents keep their numbers exact.
		d.UseNumber()
		target = f.Addr().Interface()
	} else {
		d.DisallowUnknownFields()
	}
	if err := d.Decode(target); err != nil {
		return dto.BadRequest("invalid request body").Wrap(err)
	}
	return nil
}

func bodyField(elem reflect.Value) (reflect.Value, bool) {
	typ := elem.Type()
	for i := range typ.NumField() {
		if _, ok := typ.Field(i).Tag.Lookup("body"); ok {
			return elem.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// writeJSON writes v as the JSON response.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// writeError writes err as an ErrorResponse. Errors that do not carry a
// status are internal errors.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	code := dto.ErrorCodeInternal
	var details map[string]any
	var ews dto.ErrorWithStatus
	if errors.As(err, &ews) {
		statusCode = ews.StatusCode()
		code = ews.Code()
		details = ews.Details()
	}
	if statusCode >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", statusCode, "code", code)
	} else {
		slog.DebugContext(ctx, "Request rejected", "err", err, "statusCode", statusCode, "code", code)
	}
	writeJSON(ctx, w, statusCode, dto.ErrorResponse{
		Error:   dto.ErrorDetails{Code: code, Message: err.Error()},
		Details: details,
	})
}

// writeRateLimitError is the ratelimit.DenyFunc of the API.
func writeRateLimitError(w http.ResponseWriter, r *http.Request, res ratelimit.Result) {
	writeError(r.Context(), w, dto.RateLimited(int(res.RetryAfter.Seconds())))
}
