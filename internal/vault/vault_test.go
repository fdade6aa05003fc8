// SPDX-License-Identifier: Apache-2.0

package vault_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/partmove/partmove/internal/vault"
)

func TestSealOpenRoundTrip(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "vault.key")

	v, err := vault.Open(keyPath)
	require.NoError(t, err)

	sealed, err := v.SealString("super-secret-password")
	require.NoError(t, err)

	opened, err := v.OpenString(sealed)
	require.NoError(t, err)
	require.Equal(t, "super-secret-password", opened)
}

func TestOpenPersistsKeyAcrossInstances(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "vault.key")

	v1, err := vault.Open(keyPath)
	require.NoError(t, err)
	sealed, err := v1.SealString("hunter2")
	require.NoError(t, err)

	v2, err := vault.Open(keyPath)
	require.NoError(t, err)
	opened, err := v2.OpenString(sealed)
	require.NoError(t, err)
	require.Equal(t, "hunter2", opened)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	v1, err := vault.Open(filepath.Join(t.TempDir(), "vault.key"))
	require.NoError(t, err)
	v2, err := vault.Open(filepath.Join(t.TempDir(), "vault.key"))
	require.NoError(t, err)

	sealed, err := v1.SealString("payload")
	require.NoError(t, err)

	_, err = v2.Open(sealed)
	require.ErrorIs(t, err, vault.ErrDecryptionFailed)
}
