package keys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venue.key")
	require.NoError(t, os.WriteFile(path, []byte("my-key\nmy-secret\nmy-pass\n"), 0o600))

	creds, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "my-key", creds.APIKey)
	assert.Equal(t, "my-secret", creds.APISecret)
	assert.Equal(t, "my-pass", creds.Passphrase)
}

func TestLoadPlainFileWithoutPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venue.key")
	require.NoError(t, os.WriteFile(path, []byte("k\ns\n"), 0o600))

	creds, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "k", creds.APIKey)
	assert.Empty(t, creds.Passphrase)
}

func TestLoadPlainFileTooShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venue.key")
	require.NoError(t, os.WriteFile(path, []byte("only-key\n"), 0o600))

	_, err := Load(path, "")
	require.Error(t, err)
}

func TestEncryptRoundTrip(t *testing.T) {
	in := Credentials{APIKey: "k", APISecret: "s", Passphrase: "p"}
	blob, err := Encrypt(in, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "venue.key.enc")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	out, err := Load(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := Encrypt(Credentials{APIKey: "k", APISecret: "s"}, "right")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "venue.key.enc")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	_, err = Load(path, "wrong")
	require.Error(t, err)
}
