// Package strtod implements the C1 component of mathpresso: a
// locale-independent parser from a lexically-validated numeric literal to
// an IEEE-754 double, per spec ยง4.1.
//
// The tokenizer has already confirmed the literal matches
// `[0-9]+(\.[0-9]*)?([eE][+-]?[0-9]+)?` (or the leading-dot form), so
// Parse only has to do the digits-to-double conversion; it does not
// re-validate syntax.
package strtod

import (
	"errors"
	"strconv"
)

// ErrInvalidNumber is returned when the literal overflows to infinity
// without an explicit "inf" spelling, or is otherwise malformed. Per
// spec ยง4.1, underflow to zero is not an error.
var ErrInvalidNumber = errors.New("invalid numeric literal")

// Parse converts s into a float64, independent of the process locale.
//
// Go's strconv.ParseFloat is already specified to be locale-independent
// (it only ever recognizes '.' as the decimal point) and to round
// half-to-even to the nearest representable double, which is exactly
// what spec ยง4.1 requires ("round half-to-even", "independent of the
// ambient locale"). A hand-rolled Clinger/Gay/Grisu-style big-integer
// converter would only reimplement what strconv.ParseFloat already does
// correctly; see DESIGN.md for why that reimplementation is not worth
// the risk here.
func Parse(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			// Overflow-to-infinity without an "inf" spelling in the
			// source is an error; underflow-to-zero (ErrRange is also
			// returned for subnormal-to-zero by some Go versions) is
			// tolerated by checking the returned magnitude below.
			if v == 0 {
				return 0, nil
			}
			return 0, ErrInvalidNumber
		}
		return 0, ErrInvalidNumber
	}
	return v, nil
}
