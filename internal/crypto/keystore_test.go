package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	blob, err := SealKey(testKey, "hunter2")
	require.NoError(t, err)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(blob, &stored))
	assert.Equal(t, strings.ToLower(testAddress), stored["address"])

	key, err := OpenKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(testKey, "0x"), key)

	_, err = OpenKey(blob, "wrong")
	assert.Error(t, err)
}

func TestOpenKeyRejectsRelabelledFile(t *testing.T) {
	blob, err := SealKey(testKey, "pw")
	require.NoError(t, err)

	var stored sealedKey
	require.NoError(t, json.Unmarshal(blob, &stored))
	stored.Address = "0x2c7536e3605d9c16a7a3d7b1898e529396a65c23"
	tampered, err := json.Marshal(stored)
	require.NoError(t, err)

	_, err = OpenKey(tampered, "pw")
	assert.Error(t, err)
}

func TestResolveKey(t *testing.T) {
	key, err := ResolveKey(KeySource{RawPrivateKey: testKey})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(testKey, "0x"), key)

	blob, err := SealKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	key, err = ResolveKey(KeySource{KeyfilePath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(testKey, "0x"), key)

	_, err = ResolveKey(KeySource{})
	assert.Error(t, err)
	_, err = ResolveKey(KeySource{RawPrivateKey: "zz"})
	assert.Error(t, err)
	_, err = SealKey(testKey, "")
	assert.Error(t, err)
}
