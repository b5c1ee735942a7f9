// Package crypt wraps crypt(3) for channel password storage. Passwords are
// stored as crypt(password, salt) so the on-disk channel record never holds
// the cleartext.
package crypt

import (
	"math/rand"

	descrypt "github.com/digitive/crypt"
)

const saltChars = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Hash encrypts a password with a random two-character salt.
func Hash(password string) string {
	salt := string([]byte{
		saltChars[rand.Intn(len(saltChars))],
		saltChars[rand.Intn(len(saltChars))],
	})
	result, err := descrypt.Crypt(password, salt)
	if err != nil {
		return ""
	}
	return result
}

// Check verifies a password against a stored hash. The salt is the first
// two characters of the hash.
func Check(password, storedHash string) bool {
	if len(storedHash) < 2 {
		return false
	}
	computed, err := descrypt.Crypt(password, storedHash[:2])
	if err != nil {
		return false
	}
	return computed == storedHash
}
