package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigr/permastate-go/internal/composition/entityserver"
	"github.com/eigr/permastate-go/internal/testutil/schemafixture"
)

func writeConfig(t *testing.T, descriptorPath string) string {
	t.Helper()
	body := "service:\n" +
		"  serviceName: ShoppingCart\n" +
		"  persistenceId: shopping-cart\n" +
		"  descriptorPath: " + descriptorPath + "\n" +
		"log:\n" +
		"  level: error\n"
	path := filepath.Join(t.TempDir(), "entityd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDescribePrintsHandshake(t *testing.T) {
	artifact := schemafixture.WriteArtifact(t, t.TempDir())

	out, err := run(t, "--config", writeConfig(t, artifact), "describe")
	require.NoError(t, err)

	var desc entityserver.Description
	require.NoError(t, json.Unmarshal([]byte(out), &desc))
	require.Len(t, desc.Entities, 1)
	assert.Equal(t, "cloudstate.eventsourced.EventSourced", desc.Entities[0].EntityType)
	assert.Equal(t, "ShoppingCart", desc.Entities[0].ServiceName)
	assert.Equal(t, len(schemafixture.ShoppingCartDescriptorSet(t)), desc.SchemaBytes)
	require.NotNil(t, desc.Descriptor)
	assert.Equal(t, []string{schemafixture.ShoppingCartService}, desc.Descriptor.Services)
}

func TestDescribeFlagOverridesDescriptor(t *testing.T) {
	artifact := schemafixture.WriteArtifact(t, t.TempDir())
	cfgPath := writeConfig(t, filepath.Join(t.TempDir(), "absent.desc"))

	_, err := run(t, "--config", cfgPath, "describe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration unavailable")

	_, err = run(t, "--config", cfgPath, "describe", "--descriptor", artifact)
	require.NoError(t, err)
}

func TestServeRejectsInvalidService(t *testing.T) {
	cfgPath := writeConfig(t, "user-function.desc")
	t.Setenv("ENTITYD_ENTITY_TYPE", "actor")

	_, err := run(t, "--config", cfgPath, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity_kind")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "entityd version=dev"))
}
