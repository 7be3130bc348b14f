package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `version: 1
name: activity-monitor
description: monitoring stack
providers:
  - azure
globals:
  - name: subscription_id
    description: azure subscription id
    value: "{{ AZURE_SUBSCRIPTION_ID | default('sub-000') }}"
  - name: location
    value: eastus
resources:
  - name: monitor_resource_group
    props:
      - name: resource_group_name
        value: "activity-monitor-{{ stack_env }}-rg"
    exports:
      - resource_group_name
  - name: storage_account
    props:
      - name: storage_account_name
        values:
          prod:
            value: monitorprodsa
          sit:
            value: monitorsitsa
    exports:
      - storage_account_key
    protected:
      - storage_account_key
exports:
  - storage_account_key
`

func TestParseManifest(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, 1, m.Version)
	assert.Equal(t, "activity-monitor", m.Name)
	assert.Equal(t, []string{"azure"}, m.Providers)
	require.Len(t, m.Globals, 2)
	assert.Equal(t, "subscription_id", m.Globals[0].Name)
	require.Len(t, m.Resources, 2)
	assert.Equal(t, "monitor_resource_group", m.Resources[0].Name)
	assert.Equal(t, []string{"storage_account_key"}, m.Exports)
}

func TestResourceQueryFileName(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "monitor_resource_group.iql", m.Resources[0].QueryFileName())

	r := Resource{Name: "x", File: "custom.iql"}
	assert.Equal(t, "custom.iql", r.QueryFileName())
}

func TestPropertyValueForEnvironment(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	sa := m.Resources[1]
	node, err := sa.Props[0].ValueFor("prod")
	require.NoError(t, err)
	assert.Equal(t, "monitorprodsa", node.Value)

	_, err = sa.Props[0].ValueFor("dev")
	assert.Error(t, err)
}

func TestIsProtected(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	assert.True(t, m.Resources[1].IsProtected("storage_account_key"))
	assert.False(t, m.Resources[1].IsProtected("storage_account_name"))
}

func TestValidateRejectsDuplicateResourceNames(t *testing.T) {
	_, err := Parse([]byte(`name: s
providers: [aws]
resources:
  - name: a
  - name: a
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate resource name")
}

func TestValidateRejectsMissingFields(t *testing.T) {
	_, err := Parse([]byte("description: no name or providers\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("name: s\nproviders: []\n"))
	assert.Error(t, err)
}

func TestValidateRejectsValuelessProperty(t *testing.T) {
	_, err := Parse([]byte(`name: s
providers: [aws]
resources:
  - name: a
    props:
      - name: orphan
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither value nor values")
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unclosed"))
	assert.Error(t, err)
}

func TestLoadFromStackDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(sampleManifest), 0o644))

	m, err := LoadFromStackDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "activity-monitor", m.Name)

	_, ok := m.FindResource("storage_account")
	assert.True(t, ok)
	_, ok = m.FindResource("nope")
	assert.False(t, ok)
}
