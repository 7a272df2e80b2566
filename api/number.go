package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	// ErrMissing marks a field that was absent or null
	ErrMissing = errors.New("field missing")
	// ErrWrongType marks a field whose JSON type did not match the schema
	ErrWrongType = errors.New("field has wrong type")
)

// Number is a numeric JSON field decoded without failing the whole payload.
// Absent and null fields leave it invalid with no error; any non-number
// leaves it invalid with an ErrWrongType error.
type Number[T int | float64] struct {
	Value T
	Valid bool
	Err   error
}

// UnmarshalJSON implements json.Unmarshaler
func (n *Number[T]) UnmarshalJSON(b []byte) error {
	*n = Number[T]{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		n.Err = fmt.Errorf("%w: expected number, got %s", ErrWrongType, preview(b))
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		n.Err = fmt.Errorf("%w: non-finite number", ErrWrongType)
		return nil
	}

	v := T(f)
	if float64(v) != f {
		n.Err = fmt.Errorf("%w: expected integer, got %s", ErrWrongType, strconv.FormatFloat(f, 'g', -1, 64))
		return nil
	}

	n.Value = v
	n.Valid = true
	return nil
}

// Result returns the value, or the reason it is unusable
func (n Number[T]) Result() (T, error) {
	if n.Valid {
		return n.Value, nil
	}
	if n.Err != nil {
		return n.Value, n.Err
	}
	return n.Value, ErrMissing
}

// Or returns the value when valid and fallback otherwise
func (n Number[T]) Or(fallback T) T {
	if n.Valid {
		return n.Value
	}
	return fallback
}

// Text is a string JSON field decoded without failing the whole payload
type Text struct {
	Value string
	Valid bool
	Err   error
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Text) UnmarshalJSON(b []byte) error {
	*t = Text{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(b, &t.Value); err != nil {
		t.Err = fmt.Errorf("%w: expected string, got %s", ErrWrongType, preview(b))
		return nil
	}
	t.Valid = true
	return nil
}

// Or returns the value when valid and non-empty, fallback otherwise
func (t Text) Or(fallback string) string {
	if t.Valid && t.Value != "" {
		return t.Value
	}
	return fallback
}

// ID accepts either a JSON string or number and keeps its text form
type ID string

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(b []byte) error {
	*id = ""
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		*id = ID(num.String())
	}
	return nil
}

func preview(b []byte) string {
	const limit = 32
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
