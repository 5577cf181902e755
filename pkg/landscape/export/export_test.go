package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/model"
)

func sampleDump() *landscape.AuditDump {
	run := model.NewRun("run-1", "v1", "cfg-hash", nil)
	node := model.NewNode("node-1", "run-1", "csv_source", "1.0.0", model.NodeTypeSource, model.Deterministic, "node-cfg-hash", 0)
	return &landscape.AuditDump{
		Runs:  []*model.Run{run},
		Nodes: []*model.Node{node},
	}
}

func TestWriteJSONProducesOrderedBundle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.json")
	require.NoError(t, WriteJSON(sampleDump(), path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type": "runs"`)
	assert.Contains(t, string(data), `"type": "nodes"`)
}

func TestWriteJSONSigningRequiresKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.json")
	os.Unsetenv(SigningKeyEnvVar)
	err := WriteJSON(sampleDump(), path, true)
	require.Error(t, err)
}

func TestWriteJSONSignsWhenKeyPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.json")
	t.Setenv(SigningKeyEnvVar, "test-key")
	require.NoError(t, WriteJSON(sampleDump(), path, true))

	_, err := os.Stat(path + ".sig")
	require.NoError(t, err)
}

func TestWriteCSVCreatesOneFilePerRecordType(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "csv")
	require.NoError(t, WriteCSV(sampleDump(), out, false))

	for _, name := range recordTypeOrder {
		_, err := os.Stat(filepath.Join(out, name+".csv"))
		require.NoError(t, err, "expected %s.csv to exist", name)
	}
}

func TestWriteCSVEmptyTypeProducesHeaderlessFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "csv")
	require.NoError(t, WriteCSV(&landscape.AuditDump{}, out, false))

	data, err := os.ReadFile(filepath.Join(out, "edges.csv"))
	require.NoError(t, err)
	assert.Empty(t, data)
}
