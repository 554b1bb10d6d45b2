// Package otp generates and compares short numeric one-time codes.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
)

// Digits is the length of every generated code.
const Digits = 6

var (
	codeFloor = big.NewInt(100000)
	codeSpan  = big.NewInt(900000)
)

// Generate returns a uniformly random code in [100000, 999999].
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", err
	}
	return n.Add(n, codeFloor).String(), nil
}

// WellFormed reports whether code is exactly digits ASCII digits.
func WellFormed(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Hash returns the hex SHA-256 of code. Stored codes are kept in this form.
func Hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Matches compares code against a stored hash in constant time.
func Matches(storedHash, code string) bool {
	if storedHash == "" {
		return false
	}
	computed := Hash(code)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(computed)) == 1
}
