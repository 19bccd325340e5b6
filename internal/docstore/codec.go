package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

var (
	errNotObject     = errors.New("document is not a JSON object")
	errTrailingValue = errors.New("unexpected data after the document")
)

// Codec serializes documents to and from their on-disk form.
type Codec interface {
	Marshal(doc Document) ([]byte, error)
	Unmarshal(data []byte) (Document, error)
}

// JSONCodec is the default Codec. Numbers decode as json.Number so integers
// survive a round trip exactly.
type JSONCodec struct{}

// Marshal implements Codec.
func (JSONCodec) Marshal(doc Document) ([]byte, error) {
	return json.Marshal(map[string]any(doc))
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte) (Document, error) {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	var doc Document
	if err := d.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errNotObject
	}
	if _, err := d.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingValue
	}
	return doc, nil
}
