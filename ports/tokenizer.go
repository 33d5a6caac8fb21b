package ports

import "github.com/layer-3/ordbok/core"

// TokenCodec signs and verifies compact credential strings.
// Verify only checks integrity; expiry is left to the caller.
type TokenCodec interface {
	Generate(credential core.Credential) (string, error)
	Verify(token string) (core.Credential, bool)
}
