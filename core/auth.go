package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Credential is the payload carried inside a signed token
type Credential struct {
	Nonce     string `json:"nonce"`     // Opaque random value, base64url encoded
	ExpiresAt int64  `json:"expiresAt"` // Epoch milliseconds, fixed at issuance
}

// Expiry returns the expiration instant of the credential
func (c Credential) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

// Expired reports whether the credential is no longer usable at now
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt < now.UnixMilli()
}

// Session is the server-side record backing an opaque session token
type Session struct {
	Token         string `json:"token"`
	Authenticated bool   `json:"authenticated"`
	ExpiresAt     int64  `json:"expiresAt"` // Epoch milliseconds
	CreatedAt     int64  `json:"createdAt"` // Epoch milliseconds
}

// Expired reports whether the session is no longer usable at now
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt < now.UnixMilli()
}

// Principal is the identity attached to a request after authorization
type Principal struct {
	ID        string // Credential nonce or session token fingerprint
	ExpiresAt int64  // Epoch milliseconds, zero for anonymous principals
	Anonymous bool   // True when admitted through the free quota
	ClientID  string // Resolved client address for anonymous principals
}

// LoginResult is the outcome of a PIN login attempt
type LoginResult struct {
	Valid     bool
	Token     string
	ExpiresAt int64
}

// VerifyResult is the outcome of a token verification
type VerifyResult struct {
	Valid     bool
	ExpiresAt int64
}

// EpochMillis converts t to epoch milliseconds
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// Fingerprint identifies a token in logs and events without revealing it
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
