package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/require"
)

// Keys is a freshly generated signing identity with both keyrings written
// to disk.
type Keys struct {
	Entity        *openpgp.Entity
	KeyID         string
	PublicKeyring string
	SecretKeyring string
}

// GenerateKeys creates an EdDSA signing key and writes armored public and
// secret keyrings into dir.
func GenerateKeys(tb testing.TB, dir string) Keys {
	tb.Helper()
	entity, err := openpgp.NewEntity("Aptkeeper Test", "", "test@example.com", &packet.Config{
		Algorithm: packet.PubKeyAlgoEdDSA,
	})
	require.NoError(tb, err)

	var secret bytes.Buffer
	w, err := armor.Encode(&secret, openpgp.PrivateKeyType, nil)
	require.NoError(tb, err)
	require.NoError(tb, entity.SerializePrivate(w, nil))
	require.NoError(tb, w.Close())

	var public bytes.Buffer
	w, err = armor.Encode(&public, openpgp.PublicKeyType, nil)
	require.NoError(tb, err)
	require.NoError(tb, entity.Serialize(w))
	require.NoError(tb, w.Close())

	keys := Keys{
		Entity:        entity,
		KeyID:         entity.PrimaryKey.KeyIdString(),
		PublicKeyring: filepath.Join(dir, "trusted.asc"),
		SecretKeyring: filepath.Join(dir, "secret.asc"),
	}
	require.NoError(tb, os.WriteFile(keys.PublicKeyring, public.Bytes(), 0o600))
	require.NoError(tb, os.WriteFile(keys.SecretKeyring, secret.Bytes(), 0o600))
	return keys
}
