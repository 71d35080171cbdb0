// Package challenge produces the one-time numeric codes sent out of band.
package challenge

import (
	"math/rand/v2"
	"strconv"
)

const (
	minCode = 100000
	maxCode = 999999
)

// Generator returns a fresh code on every call.
type Generator func() string

// New draws codes uniformly from [100000, 999999] using the runtime's
// randomly seeded ChaCha8 source.
func New() Generator {
	return func() string {
		return strconv.Itoa(minCode + rand.IntN(maxCode-minCode+1))
	}
}

// Fixed always returns code.
func Fixed(code string) Generator {
	return func() string {
		return code
	}
}
