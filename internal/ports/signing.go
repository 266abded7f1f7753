package ports

import (
	"context"
	"io"
)

// Signer produces clear-signed and detached signatures.
type Signer interface {
	ClearSign(ctx context.Context, src io.Reader, dst io.Writer) error
	DetachedSign(ctx context.Context, src io.Reader, dst io.Writer) error
}

// Verifier checks signatures against a keyring.
type Verifier interface {
	// VerifyClearsigned returns the signed text of an inline signed message.
	VerifyClearsigned(ctx context.Context, data []byte) ([]byte, error)
	// ExtractClearsigned returns the text without checking the signature.
	ExtractClearsigned(data []byte) ([]byte, error)
	VerifyDetached(ctx context.Context, signed []byte, signature []byte) error
	// SignerKeys verifies an inline signed message and returns the key id
	// and fingerprint of the key that made the signature.
	SignerKeys(ctx context.Context, data []byte) ([]string, error)
}

// SignerFactory builds signers and verifiers for per-operation options.
type SignerFactory interface {
	Signer(keyRef string, secretKeyring string, passphrase string) (Signer, error)
	Verifier(keyrings []string) (Verifier, error)
}
