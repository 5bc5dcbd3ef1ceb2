package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseCache(t *testing.T, c Cache) {
	t.Helper()

	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set("mf-level", "2"))
	v, ok, err := c.Get("mf-level")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	require.NoError(t, c.Set("mf-level", "3"))
	v, _, _ = c.Get("mf-level")
	assert.Equal(t, "3", v)

	require.NoError(t, c.Remove("mf-level"))
	require.NoError(t, c.Remove("mf-level"))
	_, ok, err = c.Get("mf-level")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	exerciseCache(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	c, err := OpenSQLite(path)
	require.NoError(t, err)
	defer c.Close()

	exerciseCache(t, c)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, c.Set("wallet-address", "abc"))
	require.NoError(t, c.Close())

	c, err = OpenSQLite(path)
	require.NoError(t, err)
	defer c.Close()

	v, ok, err := c.Get("wallet-address")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestPrefixedIsolation(t *testing.T) {
	mem := NewMemory()
	alice := WithPrefix(mem, "player:1:")
	bob := WithPrefix(mem, "player:2:")

	require.NoError(t, alice.Set("mf-state", "a"))
	require.NoError(t, bob.Set("mf-state", "b"))

	v, _, _ := alice.Get("mf-state")
	assert.Equal(t, "a", v)
	assert.Equal(t, []string{"player:1:mf-state", "player:2:mf-state"}, mem.Keys())

	nested := WithPrefix(alice, "wallet:")
	assert.Equal(t, "player:1:wallet:", nested.Prefix())
}

func TestJSONHelpers(t *testing.T) {
	mem := NewMemory()

	type record struct {
		Points float64 `json:"points"`
	}
	require.NoError(t, SetJSON(mem, "k", record{Points: 1.5}))

	var got record
	ok, err := GetJSON(mem, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.5, got.Points)

	require.NoError(t, mem.Set("bad", "{not json"))
	_, err = GetJSON(mem, "bad", &got)
	assert.Error(t, err)

	ok, err = GetJSON(mem, "absent", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
