package adapters

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
)

// SignerFactoryAdapter builds OpenPGP signers and verifiers from keyring
// files. Keyrings may be armored or binary.
type SignerFactoryAdapter struct {
	defaultKeyring       string
	defaultSecretKeyring string
}

func NewSignerFactoryAdapter(keyring string, secretKeyring string) *SignerFactoryAdapter {
	return &SignerFactoryAdapter{defaultKeyring: keyring, defaultSecretKeyring: secretKeyring}
}

// Signer selects the key matching keyRef (key id, fingerprint or user id
// substring) from the secret keyring, or its first signing key.
func (f *SignerFactoryAdapter) Signer(keyRef string, secretKeyring string, passphrase string) (ports.Signer, error) {
	if secretKeyring == "" {
		secretKeyring = f.defaultSecretKeyring
	}
	if secretKeyring == "" {
		return nil, shared.InvalidArgument("no secret keyring configured for signing")
	}
	entities, err := readKeyringFile(secretKeyring)
	if err != nil {
		return nil, err
	}
	entity, err := selectSigningEntity(entities, keyRef)
	if err != nil {
		return nil, err
	}
	if err := decryptEntity(entity, passphrase); err != nil {
		return nil, err
	}
	return NewPGPSigner(entity), nil
}

func (f *SignerFactoryAdapter) Verifier(keyrings []string) (ports.Verifier, error) {
	if len(keyrings) == 0 && f.defaultKeyring != "" {
		keyrings = []string{f.defaultKeyring}
	}
	var all openpgp.EntityList
	for _, path := range keyrings {
		entities, err := readKeyringFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, entities...)
	}
	return NewPGPVerifier(all), nil
}

func readKeyringFile(path string) (openpgp.EntityList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("keyring not found: " + path)
		}
		return nil, shared.Internal("failed to read keyring "+path, err)
	}
	entities, err := ReadKeyring(data)
	if err != nil {
		return nil, shared.InvalidArgument("failed to parse keyring " + path + ": " + err.Error())
	}
	return entities, nil
}

// ReadKeyring parses an armored or binary keyring.
func ReadKeyring(data []byte) (openpgp.EntityList, error) {
	if bytes.Contains(data, []byte("-----BEGIN PGP")) {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(data))
}

func selectSigningEntity(entities openpgp.EntityList, keyRef string) (*openpgp.Entity, error) {
	ref := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(keyRef), "0x"))
	for _, entity := range entities {
		if entity.PrivateKey == nil {
			continue
		}
		if ref == "" || entityMatches(entity, ref) {
			return entity, nil
		}
	}
	if ref == "" {
		return nil, shared.InvalidArgument("no secret key found in keyring")
	}
	return nil, shared.NotFound("signing key", keyRef)
}

func entityMatches(entity *openpgp.Entity, ref string) bool {
	fingerprint := strings.ToUpper(hex.EncodeToString(entity.PrimaryKey.Fingerprint))
	if strings.HasSuffix(fingerprint, ref) {
		return true
	}
	for name := range entity.Identities {
		if strings.Contains(strings.ToUpper(name), ref) {
			return true
		}
	}
	return false
}

func decryptEntity(entity *openpgp.Entity, passphrase string) error {
	if entity.PrivateKey == nil || !entity.PrivateKey.Encrypted {
		return nil
	}
	if passphrase == "" {
		return shared.InvalidArgument("signing key is encrypted, passphrase required")
	}
	if err := entity.DecryptPrivateKeys([]byte(passphrase)); err != nil {
		return errbuilder.New().
			WithCode(shared.CodeSignatureInvalid).
			WithMsg("unable to decrypt signing key").
			WithCause(err)
	}
	return nil
}

// PGPSigner signs with one OpenPGP entity.
type PGPSigner struct {
	entity *openpgp.Entity
}

func NewPGPSigner(entity *openpgp.Entity) *PGPSigner {
	return &PGPSigner{entity: entity}
}

// ClearSign writes the InRelease form of src.
func (s *PGPSigner) ClearSign(ctx context.Context, src io.Reader, dst io.Writer) error {
	key, ok := s.entity.SigningKey(time.Now())
	if !ok {
		return shared.InvalidArgument("key has no usable signing key")
	}
	plaintext, err := clearsign.Encode(dst, key.PrivateKey, nil)
	if err != nil {
		return shared.Internal("failed to start clearsign", err)
	}
	if _, err := io.Copy(plaintext, src); err != nil {
		_ = plaintext.Close()
		return shared.Internal("failed to clearsign", err)
	}
	if err := plaintext.Close(); err != nil {
		return shared.Internal("failed to finish clearsign", err)
	}
	log.Ctx(ctx).Debug().Str("key", s.entity.PrimaryKey.KeyIdString()).Msg("clearsigned")
	return nil
}

// DetachedSign writes an armored detached signature (Release.gpg).
func (s *PGPSigner) DetachedSign(ctx context.Context, src io.Reader, dst io.Writer) error {
	if err := openpgp.ArmoredDetachSign(dst, s.entity, src, nil); err != nil {
		return shared.Internal("failed to sign", err)
	}
	return nil
}

// PGPVerifier checks signatures against a fixed keyring.
type PGPVerifier struct {
	keyring openpgp.EntityList
}

func NewPGPVerifier(keyring openpgp.EntityList) *PGPVerifier {
	return &PGPVerifier{keyring: keyring}
}

func (v *PGPVerifier) VerifyClearsigned(ctx context.Context, data []byte) ([]byte, error) {
	block, _ := clearsign.Decode(data)
	if block == nil {
		return nil, signatureInvalid("no clearsigned message found", nil)
	}
	signer, err := block.VerifySignature(v.keyring, nil)
	if err != nil {
		return nil, signatureInvalid("signature verification failed", err)
	}
	log.Ctx(ctx).Debug().Str("key", signer.PrimaryKey.KeyIdString()).Msg("good signature")
	return block.Bytes, nil
}

func (v *PGPVerifier) SignerKeys(ctx context.Context, data []byte) ([]string, error) {
	block, _ := clearsign.Decode(data)
	if block == nil {
		return nil, signatureInvalid("no clearsigned message found", nil)
	}
	signer, err := block.VerifySignature(v.keyring, nil)
	if err != nil {
		return nil, signatureInvalid("signature verification failed", err)
	}
	return []string{
		signer.PrimaryKey.KeyIdString(),
		strings.ToUpper(hex.EncodeToString(signer.PrimaryKey.Fingerprint)),
	}, nil
}

// ExtractClearsigned strips the signature armor; unsigned input is
// returned unchanged.
func (v *PGPVerifier) ExtractClearsigned(data []byte) ([]byte, error) {
	block, _ := clearsign.Decode(data)
	if block == nil {
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN PGP SIGNED MESSAGE")) {
			return nil, shared.InvalidArgument("malformed clearsigned message")
		}
		return data, nil
	}
	return block.Bytes, nil
}

func (v *PGPVerifier) VerifyDetached(ctx context.Context, signed []byte, signature []byte) error {
	var err error
	if bytes.Contains(signature, []byte("-----BEGIN PGP SIGNATURE")) {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, bytes.NewReader(signed), bytes.NewReader(signature), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(signed), bytes.NewReader(signature), nil)
	}
	if err != nil {
		return signatureInvalid("detached signature verification failed", err)
	}
	return nil
}

func signatureInvalid(msg string, cause error) error {
	builder := errbuilder.New().
		WithCode(shared.CodeSignatureInvalid).
		WithMsg(msg)
	if cause != nil {
		builder = builder.WithCause(cause)
	}
	return builder
}

var (
	_ ports.SignerFactory = (*SignerFactoryAdapter)(nil)
	_ ports.Signer        = (*PGPSigner)(nil)
	_ ports.Verifier      = (*PGPVerifier)(nil)
)
