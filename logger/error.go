package logger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AnnotateError wraps an error with structured logging attributes (slog key-value pairs).
// When the returned error is logged through a handler built with NewErrorHandler,
// the attributes are extracted and included in the log output.
//
// Example:
//
//	err := store.Append(ctx, id, rec)
//	if err != nil {
//	    return AnnotateError(err, "entity_id", id, "version", rec.Version)
//	}
//
// Returns nil if err is nil.
func AnnotateError(err error, args ...any) error {
	if err == nil {
		return nil
	}

	r := slog.NewRecord(time.Now(), slog.LevelDebug, "", 0)
	r.Add(args...)

	var errAttrs []slog.Attr

	r.Attrs(func(attr slog.Attr) bool {
		errAttrs = append(errAttrs, attr)

		return true
	})

	// Annotating twice keeps everything in one wrapper.
	if inner, ok := err.(*slogError); ok { //nolint:errorlint
		return &slogError{err: inner.err, attrs: append(append([]slog.Attr{}, inner.attrs...), errAttrs...)}
	}

	return &slogError{
		err:   err,
		attrs: errAttrs,
	}
}

// ErrorAttrs returns the attributes attached to err by AnnotateError.
func ErrorAttrs(err error) []slog.Attr {
	var se *slogError
	if !errors.As(err, &se) {
		return nil
	}

	return se.attrs
}

// slogError wraps an error with structured logging attributes.
// It supports unwrapping, so errors.Is and errors.As see through it.
type slogError struct {
	err   error
	attrs []slog.Attr
}

func (s *slogError) Error() string {
	return s.err.Error()
}

func (s *slogError) Unwrap() error {
	return s.err
}

var _ error = (*slogError)(nil)

// errorHandler is a slog.Handler decorator that extracts the attributes of
// annotated errors and adds them to the record.
type errorHandler struct {
	inner slog.Handler
}

var _ slog.Handler = (*errorHandler)(nil)

// NewErrorHandler wraps inner so that errors built with AnnotateError log
// their attributes next to the error itself.
func NewErrorHandler(inner slog.Handler) slog.Handler {
	return &errorHandler{inner: inner}
}

func (s *errorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.inner.Enabled(ctx, level)
}

func (s *errorHandler) Handle(ctx context.Context, record slog.Record) error {
	var (
		baseAttrs []slog.Attr
		errAttrs  []slog.Attr
	)

	record.Attrs(func(attr slog.Attr) bool {
		var se *slogError

		if err, ok := attr.Value.Any().(error); ok && errors.As(err, &se) {
			baseAttrs = append(baseAttrs, slog.Attr{Key: attr.Key, Value: slog.AnyValue(se.err)})
			errAttrs = append(errAttrs, se.attrs...)
		} else {
			baseAttrs = append(baseAttrs, attr)
		}

		return true
	})

	if len(errAttrs) == 0 {
		return s.inner.Handle(ctx, record)
	}

	r := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	r.AddAttrs(baseAttrs...)
	r.AddAttrs(errAttrs...)

	return s.inner.Handle(ctx, r)
}

func (s *errorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &errorHandler{inner: s.inner.WithAttrs(attrs)}
}

func (s *errorHandler) WithGroup(name string) slog.Handler {
	return &errorHandler{inner: s.inner.WithGroup(name)}
}
