// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// # Password Hashing

const (
	// PasswordCost is the bcrypt work factor for stored credentials.
	PasswordCost = bcrypt.DefaultCost

	// MaxPasswordBytes is the longest input bcrypt accepts.
	MaxPasswordBytes = 72
)

// timingHash is compared against when an account does not exist so that
// unknown usernames cost the same as wrong passwords.
var timingHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("yomira-iam-timing-equaliser"), PasswordCost)
	if err != nil {
		panic("sec: timing hash: " + err.Error())
	}
	return hash
})

// HashPassword hashes a plain-text password with bcrypt at [PasswordCost].
func HashPassword(plainTextPassword string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(plainTextPassword), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("sec: failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckPasswordHash reports whether plainTextPassword matches existingHash.
// A malformed hash never matches.
func CheckPasswordHash(plainTextPassword, existingHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(existingHash), []byte(plainTextPassword)) == nil
}

// BurnPasswordCheck spends one bcrypt comparison and discards the result.
func BurnPasswordCheck(plainTextPassword string) {
	_ = bcrypt.CompareHashAndPassword(timingHash(), []byte(plainTextPassword))
}
