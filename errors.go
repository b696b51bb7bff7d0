package main

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionNotFound means no usable session blob could be loaded.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInvalid means the platform rejected the session (login redirect).
	ErrSessionInvalid = errors.New("session invalid")
	// ErrEmptyArticle is returned when a generated article has no title or body.
	ErrEmptyArticle = errors.New("article is empty")
)

// ConfigurationError lists every required setting that is missing.
type ConfigurationError struct {
	Missing []string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("configuration: missing %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d for %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// RetrievalError aborts the run: the store could not be read.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError fails a single item.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// RenderError is recoverable; the item is published without a header image.
type RenderError struct {
	Cause error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed: %v", e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

// UpdateError means the post went through but the store still says Ready.
type UpdateError struct {
	PageID string
	Err    error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("status update for %s: %v", e.PageID, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }
