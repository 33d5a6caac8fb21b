package codec

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/ports"
)

// Separator joins the encoded payload and its signature. It is not part of the base64url alphabet.
const Separator = "."

// NonceSize is the number of random bytes in a credential nonce
const NonceSize = 32

var segmentEncoding = base64.RawURLEncoding.Strict()

// HMACCodec implements the TokenCodec interface with HMAC-SHA256
type HMACCodec struct {
	secret []byte
	method *jwt.SigningMethodHMAC
}

// NewHMACCodec creates a codec bound to secret. An empty secret is a configuration error.
func NewHMACCodec(secret []byte) (*HMACCodec, error) {
	if len(secret) == 0 {
		return nil, core.ErrMissingSecret
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &HMACCodec{
		secret: key,
		method: jwt.SigningMethodHS256,
	}, nil
}

var _ ports.TokenCodec = (*HMACCodec)(nil)

// Sign returns the base64url encoded HMAC of data
func (h *HMACCodec) Sign(data string) string {
	// Sign only fails on a non-[]byte key, which the constructor rules out
	sig, err := h.method.Sign(data, h.secret)
	if err != nil {
		return ""
	}
	return segmentEncoding.EncodeToString(sig)
}

// Generate serializes, encodes and signs a credential
func (h *HMACCodec) Generate(credential core.Credential) (string, error) {
	payload, err := json.Marshal(credential)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credential: %w", err)
	}

	encoded := segmentEncoding.EncodeToString(payload)
	return encoded + Separator + h.Sign(encoded), nil
}

// Verify checks the signature of token and returns its payload.
// Any structural, signature or decoding problem yields false without further detail.
func (h *HMACCodec) Verify(token string) (core.Credential, bool) {
	encoded, signature, ok := strings.Cut(token, Separator)
	if !ok || encoded == "" || signature == "" || strings.Contains(signature, Separator) {
		return core.Credential{}, false
	}

	sig, err := segmentEncoding.DecodeString(signature)
	if err != nil {
		return core.Credential{}, false
	}

	// hmac.Equal: length-checked, constant-time over the signature bytes
	if err := h.method.Verify(encoded, sig, h.secret); err != nil {
		return core.Credential{}, false
	}

	credential, err := decodePayload(encoded)
	if err != nil {
		return core.Credential{}, false
	}

	return credential, true
}

// ParseUnverified decodes the payload of token without checking its signature.
// The result must not be used for authorization.
func ParseUnverified(token string) (core.Credential, error) {
	encoded, _, ok := strings.Cut(token, Separator)
	if !ok || encoded == "" {
		return core.Credential{}, core.ErrInvalidToken
	}
	return decodePayload(encoded)
}

func decodePayload(encoded string) (core.Credential, error) {
	payload, err := segmentEncoding.DecodeString(encoded)
	if err != nil {
		return core.Credential{}, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}

	var credential core.Credential
	if err := json.Unmarshal(payload, &credential); err != nil {
		return core.Credential{}, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}
	if credential.Nonce == "" {
		return core.Credential{}, core.ErrInvalidToken
	}

	return credential, nil
}

// NewNonce generates a random credential nonce
func NewNonce() (string, error) {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return segmentEncoding.EncodeToString(b), nil
}
