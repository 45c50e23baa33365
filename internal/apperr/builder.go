package apperr

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Builder provides a fluent interface for constructing marked errors.
// It deliberately does not implement the error interface; Mark must be
// the last call in the chain.
type Builder struct {
	err error
}

// NewError starts a builder chain from a message.
func NewError(msg string) *Builder {
	return &Builder{err: errors.New(msg)}
}

// NewErrorf starts a builder chain from a formatted message.
func NewErrorf(format string, args ...any) *Builder {
	return &Builder{err: errors.Newf(format, args...)}
}

// WithError starts a builder chain from an existing error.
func WithError(err error) *Builder {
	return &Builder{err: err}
}

// WithMessage adds internal context to the error.
func (b *Builder) WithMessage(msg string) *Builder {
	b.err = errors.WithMessage(b.err, msg)
	return b
}

// WithHint attaches user-facing text to the error.
func (b *Builder) WithHint(hint string) *Builder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

// WithHintf is WithHint with formatting.
func (b *Builder) WithHintf(format string, args ...any) *Builder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// WithReportableDetails attaches structured details safe for reporting.
func (b *Builder) WithReportableDetails(details map[string]any) *Builder {
	marshaled, err := json.Marshal(details)
	if err != nil {
		return b
	}
	b.err = errors.WithSafeDetails(b.err, "__json__:%s", errors.Safe(string(marshaled)))
	return b
}

// Mark marks the error with a sentinel; last call in the chain.
func (b *Builder) Mark(reference error) error {
	b.err = errors.Mark(b.err, reference)
	return b.err
}

// Err returns the built error unmarked.
func (b *Builder) Err() error {
	return b.err
}
