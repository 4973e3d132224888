// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package sec provides cryptographic primitives and token management.
//
// # Architecture
//
// This package isolates security-sensitive code (Hashing, JWT Signing) from
// the domain logic. It acts as an Infrastructure service injected into the
// Application layer via the auth TokenSigner interface.
package sec

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taibuivan/yomira-iam/internal/platform/constants"
)

// AuthClaims represents the payload embedded inside a JWT Access Token.
//
// # Why custom claims?
//
// Permissions are embedded at issuance so that authorization is a pure
// predicate over the token. No database round trip happens per request; a
// permission change reaches a live session on its next refresh.
type AuthClaims struct {
	jwt.RegisteredClaims

	// Custom application claims are abbreviated to keep the JWT payload small.
	UserID        string   `json:"uid"`
	Username      string   `json:"unm"`
	Roles         []string `json:"role,omitempty"`
	Permissions   []string `json:"permission,omitempty"`
	SecurityStamp string   `json:"sstamp"`
}

// HasClaim reports whether the claim set carries (claimType, value).
func (c *AuthClaims) HasClaim(claimType, value string) bool {
	if c == nil {
		return false
	}
	switch claimType {
	case constants.PermissionClaimType:
		return slices.Contains(c.Permissions, value)
	case constants.RoleClaimType:
		return slices.Contains(c.Roles, value)
	default:
		return false
	}
}

// AccessTokenInput carries everything that goes into a signed access token.
type AccessTokenInput struct {
	UserID        string
	Username      string
	Roles         []string
	Permissions   []string
	SecurityStamp string
	// TokenID becomes the jti claim and links the token to its refresh record.
	TokenID    string
	TimeToLive time.Duration
}

// TokenService handles generation and verification of JWT tokens using RS256.
type TokenService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	now        func() time.Time
}

// NewTokenService creates a new TokenService.
// It reads RSA keys from the provided filesystem paths.
func NewTokenService(privateKeyPath, publicKeyPath, issuer string) (*TokenService, error) {
	privateKeyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read private key from %s: %w", privateKeyPath, err)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyData)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to parse private key: %w", err)
	}

	publicKeyData, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read public key from %s: %w", publicKeyPath, err)
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyData)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to parse public key: %w", err)
	}

	return &TokenService{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		now:        time.Now,
	}, nil
}

// NewTokenServiceFromKey builds a TokenService around an in-memory key pair.
func NewTokenServiceFromKey(privateKey *rsa.PrivateKey, issuer string) (*TokenService, error) {
	if privateKey == nil {
		return nil, errors.New("auth: private key is required")
	}
	return &TokenService{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		issuer:     issuer,
		now:        time.Now,
	}, nil
}

// GenerateAccessToken signs a new JWT access token and returns it with its expiry.
func (service *TokenService) GenerateAccessToken(input AccessTokenInput) (string, time.Time, error) {
	currentTime := service.now()
	expiresAt := currentTime.Add(input.TimeToLive)

	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        input.TokenID,
			Subject:   input.UserID,
			Issuer:    service.issuer,
			IssuedAt:  jwt.NewNumericDate(currentTime),
			NotBefore: jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:        input.UserID,
		Username:      input.Username,
		Roles:         input.Roles,
		Permissions:   input.Permissions,
		SecurityStamp: input.SecurityStamp,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(service.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: failed to sign token: %w", err)
	}

	// Truncate to the second so callers see the same value the token carries.
	return signedToken, expiresAt.Truncate(time.Second), nil
}

// VerifyToken checks the signature, issuer and validity window of a JWT string.
func (service *TokenService) VerifyToken(tokenString string) (*AuthClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AuthClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
		}
		return service.publicKey, nil
	},
		jwt.WithIssuer(service.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(service.now),
	)

	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*AuthClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	if claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, fmt.Errorf("auth: token subject mismatch")
	}

	return claims, nil
}
