// Package code generates the short session codes relay clients type in
// to find each other.
package code

import (
	"github.com/samber/lo"
)

const (
	DefaultLength = 6
)

// Alphabet is uppercase latin letters and digits.
var Alphabet = append(append([]rune{}, lo.UpperCaseLettersCharset...), lo.NumbersCharset...)

// Generate returns a code of the given length, each character drawn
// independently and uniformly from Alphabet. Uniqueness is not checked.
func Generate(length int) string {
	if length <= 0 {
		length = DefaultLength
	}
	return lo.RandomString(length, Alphabet)
}

// Valid reports whether a client supplied code can be used as a directory key.
// Any non-empty string is accepted verbatim.
func Valid(c string) bool {
	return c != ""
}
