// Package maperr defines the error kinds shared by the mapshade packages.
package maperr

import (
	"errors"
	"fmt"
)

// Error kinds. Test with errors.Is.
var (
	// ErrMapData indicates a malformed map definition file.
	ErrMapData = errors.New("map data error")
	// ErrImage indicates a missing or unreadable source image, or a
	// palette marker that is not present in it.
	ErrImage = errors.New("image error")
	// ErrImport indicates a malformed input row, an unmapped column or an
	// invalid country code.
	ErrImport = errors.New("import error")
	// ErrBadColorValue indicates a malformed color or an alpha outside 0-1.
	ErrBadColorValue = errors.New("bad color value")
	// ErrConfig indicates an invalid setting such as a width below the
	// minimum or an unknown compression level.
	ErrConfig = errors.New("config error")
)

// Error is an error of a given kind, optionally tied to an input line.
type Error struct {
	Kind error
	Line int // 1-based; 0 when not applicable
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Line > 0 {
		msg = fmt.Sprintf("%s: line %d", msg, e.Line)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind.
func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// AtLine returns an error of the given kind tied to a 1-based line number.
func AtLine(kind error, line int, format string, args ...any) error {
	return &Error{Kind: kind, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind error, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// LineOf returns the line number carried by err, or 0.
func LineOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Line
	}
	return 0
}
