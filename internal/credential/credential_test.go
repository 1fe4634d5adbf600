package credential_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/friendrelay/friendrelay/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	data := []byte(`[
		// primary pool
		{"uid": "1001", "password": "p1"},
		{"uid": 1002, "password": "p2"},
		{"uid": "1003"},
		{"password": "orphan"},
		"not-an-object",
		{"uid": "1001", "password": "p1-updated"},
	]`)

	creds, err := credential.ParseJSON(data)
	require.NoError(t, err)

	assert.Equal(t, []credential.Credential{
		{Identity: "1001", Secret: "p1-updated"},
		{Identity: "1002", Secret: "p2"},
	}, creds)
}

func TestParseJSON_NotAList(t *testing.T) {
	_, err := credential.ParseJSON([]byte(`{"uid": "1001", "password": "p1"}`))
	assert.Error(t, err)
}

func TestParseJSON_Empty(t *testing.T) {
	creds, err := credential.ParseJSON([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
- uid: 2001
  password: secret-a
- uid: "2002"
  password: secret-b
- uid: 2003
- just a string
`)

	creds, err := credential.ParseYAML(data)
	require.NoError(t, err)

	assert.Equal(t, []credential.Credential{
		{Identity: "2001", Secret: "secret-a"},
		{Identity: "2002", Secret: "secret-b"},
	}, creds)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "accounts.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"uid":"1","password":"a"}]`), 0600))

		creds, err := credential.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []credential.Credential{{Identity: "1", Secret: "a"}}, creds)
	})

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "accounts.yml")
		require.NoError(t, os.WriteFile(path, []byte("- uid: 1\n  password: a\n"), 0600))

		creds, err := credential.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []credential.Credential{{Identity: "1", Secret: "a"}}, creds)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := credential.LoadFile(filepath.Join(dir, "absent.json"))

		var loadErr credential.LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte(`{{{`), 0600))

		_, err := credential.LoadFile(path)

		var loadErr credential.LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, path, loadErr.Path)
	})
}

func TestSource_DegradesToEmpty(t *testing.T) {
	src := credential.NewSource(filepath.Join(t.TempDir(), "absent.json"))

	creds := src.Load(context.Background())

	assert.Empty(t, creds)
}
