package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigr/permastate-go/internal/testutil/schemafixture"
)

func TestPreloadReadsArtifactOnce(t *testing.T) {
	path := schemafixture.WriteArtifact(t, t.TempDir())
	want, err := os.ReadFile(path)
	require.NoError(t, err)

	schema, err := Preload(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	got, err := schema.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, len(want), schema.Len())
}

func TestPreloadRejectsMissingOrIrregularArtifacts(t *testing.T) {
	dir := t.TempDir()
	for _, path := range []string{"", filepath.Join(dir, "missing.desc"), dir} {
		_, err := Preload(path)
		assert.ErrorIs(t, err, ErrConfigurationUnavailable, "path %q", path)
	}
}

func TestFileSchemaReadsOnEveryCall(t *testing.T) {
	dir := t.TempDir()
	path := schemafixture.WriteArtifact(t, dir)
	schema := FileSchema{Path: path, Timeout: time.Second}

	first, err := schema.Load(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	require.NoError(t, os.Remove(path))
	_, err = schema.Load(context.Background())
	assert.ErrorIs(t, err, ErrConfigurationUnavailable)
}

func TestInspectDescriptorSetListsServices(t *testing.T) {
	summary, err := InspectDescriptorSet(schemafixture.ShoppingCartDescriptorSet(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"shoppingcart/shoppingcart.proto"}, summary.Files)
	assert.Equal(t, []string{schemafixture.ShoppingCartService}, summary.Services)
	assert.Empty(t, summary.ResolveError)
	assert.True(t, summary.HasService("ShoppingCart"))
	assert.True(t, summary.HasService(schemafixture.ShoppingCartService))
	assert.False(t, summary.HasService("Cart"))
}

func TestInspectDescriptorSetRejectsGarbage(t *testing.T) {
	_, err := InspectDescriptorSet([]byte{0x0a, 0x05, 0x01})
	assert.Error(t, err)
}
