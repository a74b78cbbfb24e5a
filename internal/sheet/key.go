package sheet

import (
	"fmt"
	"strings"
)

// digits is the base-62 alphabet in ASCII order, so byte-wise string
// comparison of keys matches their numeric order.
const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// KeyBetween returns an order key strictly between a and b. An empty a
// means "before everything", an empty b "after everything".
//
// Keys are base-62 fractions without the leading "0.": a key never ends in
// the zero digit, so there is always room for another key between any two.
func KeyBetween(a, b string) (string, error) {
	if a != "" && !ValidKey(a) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, a)
	}
	if b != "" && !ValidKey(b) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, b)
	}
	if a != "" && b != "" && a >= b {
		return "", fmt.Errorf("%w: %q is not before %q", ErrInvalidKey, a, b)
	}
	return midpoint(a, b, b != ""), nil
}

// ValidKey reports whether k is a well-formed order key.
func ValidKey(k string) bool {
	if k == "" || k[len(k)-1] == digits[0] {
		return false
	}
	for i := 0; i < len(k); i++ {
		if strings.IndexByte(digits, k[i]) < 0 {
			return false
		}
	}
	return true
}

// midpoint assumes a < b when bounded. Without bound, b is ignored and the
// upper limit is the exclusive 1.0.
func midpoint(a, b string, bounded bool) string {
	if bounded {
		n := 0
		for n < len(b) && digitAt(a, n) == b[n] {
			n++
		}
		if n > 0 {
			return b[:n] + midpoint(tail(a, n), b[n:], true)
		}
	}

	da := 0
	if a != "" {
		da = strings.IndexByte(digits, a[0])
	}
	db := len(digits)
	if bounded {
		db = strings.IndexByte(digits, b[0])
	}

	if db-da > 1 {
		return string(digits[(da+db+1)/2])
	}
	if bounded && len(b) > 1 {
		return b[:1]
	}
	return string(digits[da]) + midpoint(tail(a, 1), "", false)
}

func digitAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return digits[0]
}

func tail(s string, n int) string {
	if n >= len(s) {
		return ""
	}
	return s[n:]
}
