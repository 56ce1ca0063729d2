package models

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrConfiguration       = errors.New("configuration error")
	ErrEmbedderUnavailable = errors.New("embedder unavailable")
	ErrTimeout             = errors.New("operation timed out")
	ErrVectorStore         = errors.New("vector store error")
	ErrAdapterLookup       = errors.New("unknown model id")
	ErrValidation          = errors.New("invalid request")
)

func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: document id is required", ErrValidation)
	}
	if d.Content == "" {
		return fmt.Errorf("%w: document %s has empty content", ErrValidation, d.ID)
	}
	if !utf8.ValidString(d.Content) {
		return fmt.Errorf("%w: document %s content is not valid UTF-8", ErrValidation, d.ID)
	}
	return nil
}
