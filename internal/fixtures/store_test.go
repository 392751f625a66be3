package fixtures

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmbeddedDefaults(t *testing.T) {
	store, err := New("")
	require.NoError(t, err)

	assert.Equal(t, []string{"courses", "testimonials"}, store.Resources())

	data, ok := store.List("testimonials")
	require.True(t, ok)

	var items []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &items))
	assert.NotEmpty(t, items)
	for _, item := range items {
		assert.Equal(t, true, item["approved"])
	}
}

func TestNew_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"courses":[{"id":"x"}]}`), 0o600))

	store, err := New(path)
	require.NoError(t, err)

	data, ok := store.List("courses")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"x"}]`, string(data))

	_, ok = store.List("testimonials")
	assert.False(t, ok)
}

func TestNew_MissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParse_RejectsNonList(t *testing.T) {
	_, err := Parse([]byte(`{"courses":{"id":"x"}}`))
	assert.Error(t, err)
}

func TestList_ReturnsCopy(t *testing.T) {
	store, err := Parse([]byte(`{"courses":[1]}`))
	require.NoError(t, err)

	data, _ := store.List("courses")
	data[0] = '{'

	again, _ := store.List("courses")
	assert.Equal(t, "[1]", string(again))
}

func TestNilStore(t *testing.T) {
	var store *Store
	_, ok := store.List("courses")
	assert.False(t, ok)
	assert.Nil(t, store.Resources())
}
