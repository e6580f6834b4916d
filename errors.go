package vardir

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("variable not found")
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrUnknownBuffer = errors.New("unknown buffer")
	ErrTooLarge      = errors.New("value too large")
	ErrWrongSize     = errors.New("wrong value size")
	ErrBadValue      = errors.New("invalid value")
	ErrReadOnly      = errors.New("variable is read-only")
)

// VarError wraps one of the sentinel errors with the variable path and an
// optional detail message. All access errors are local and recoverable;
// match them with errors.Is against the sentinels.
type VarError struct {
	Path string
	Err  error
	Msg  string
}

func varErrf(path string, err error, format string, args ...any) error {
	return &VarError{path, err, fmt.Sprintf(format, args...)}
}

func (e *VarError) Unwrap() error {
	return e.Err
}

func (e *VarError) Error() string {
	var buf strings.Builder
	buf.WriteString("vardir: ")
	buf.WriteString(e.Path)
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	if e.Msg != "" {
		buf.WriteString(" (")
		buf.WriteString(e.Msg)
		buf.WriteByte(')')
	}
	return buf.String()
}

func typeMismatchErr(v *Var, want Type) error {
	return varErrf(v.path, ErrTypeMismatch, "want %v, have %v", want, v.typ)
}
