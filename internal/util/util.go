// Package util provides small helpers used by the ICE agent package
// (internal/ice): random credential generation, jitter, and error
// flattening.
package util

import (
	"strings"
	"time"

	"github.com/pion/randutil"
)

// alphaNumeric is the character set RFC 8445 §15.4 allows for ice-ufrag and
// ice-pwd (a subset of ice-char, restricted here to the common printable
// ASCII letters and digits so the values are safe to embed verbatim in the
// session-description text block of spec.md §6).
const alphaNumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomCredential returns a cryptographically random alphanumeric string of
// length n, suitable for an ice-ufrag (n>=4) or ice-pwd (n>=22) value.
func RandomCredential(n int) (string, error) {
	return randutil.GenerateCryptoRandomString(n, alphaNumeric)
}

// RandomUint64 returns a non-cryptographic random 64-bit value, used for
// tie-breakers where unpredictability matters less than speed.
func RandomUint64() uint64 {
	return randutil.NewMathRandomGenerator().Uint64()
}

// Jitter returns base plus a random duration in [0, spread).
func Jitter(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	n := randutil.NewMathRandomGenerator().Uint32()
	return base + time.Duration(n)%spread
}

// FlattenErrs joins non-nil errors into a single multiError, or returns nil
// if every entry is nil.
func FlattenErrs(errs []error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return multiError(nonNil)
}

type multiError []error

func (me multiError) Error() string {
	parts := make([]string, 0, len(me))
	for _, err := range me {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "\n")
}

func (me multiError) Is(target error) bool {
	for _, err := range me {
		if err == target { //nolint:errorlint // intentional identity check, see pion/internal/util
			return true
		}
		if nested, ok := err.(multiError); ok && nested.Is(target) { //nolint:errorlint
			return true
		}
	}
	return false
}
