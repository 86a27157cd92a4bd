// Package apperr defines the error taxonomy shared by the sync and
// reconciliation engines.
package apperr

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrNotFound reports a note id with no file in the vault.
var ErrNotFound = errors.New("not found")

// ConfigurationError reports a missing or invalid setting detected before
// any network call is made.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

// RemoteError is returned for a non-success HTTP status or a response body
// that could not be decoded.
type RemoteError struct {
	Op      string
	Status  int
	Snippet string
	Err     error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("remote %s: status %d", e.Op, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Snippet != "" {
		msg += fmt.Sprintf(" (body: %q)", e.Snippet)
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// AttachmentError wraps a single attachment download or write failure.
// It degrades to a warning line in the note and never aborts materialization.
type AttachmentError struct {
	Name string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Name, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// FilesystemConflictError reports a node of the wrong kind at a target path.
type FilesystemConflictError struct {
	Path string
}

func (e *FilesystemConflictError) Error() string {
	return fmt.Sprintf("filesystem conflict: %s is a directory", e.Path)
}

// TemplateError reports a path template that rendered an empty file name.
type TemplateError struct {
	Template string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("path template %q rendered an empty name", e.Template)
}

// Snippet truncates body to at most n bytes for inclusion in error messages.
// The cut never splits a UTF-8 sequence.
func Snippet(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return string(body[:n]) + "..."
}
