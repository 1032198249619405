package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args against a temp config-less
// replica and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type replicaArgs struct {
	db     string
	config string
}

func newReplicaArgs(t *testing.T) replicaArgs {
	dir := t.TempDir()
	return replicaArgs{
		db:     filepath.Join(dir, "replica.db"),
		config: filepath.Join(dir, "absent.yaml"),
	}
}

func (r replicaArgs) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{"--config", r.config, "--db", r.db}, args...)...)
}

// jsonData runs a command with --format json and returns the data payload.
func (r replicaArgs) jsonData(t *testing.T, args ...string) map[string]any {
	t.Helper()
	out, err := r.run(t, append([]string{"--format", "json"}, args...)...)
	require.NoError(t, err, out)

	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestOneShotCommands_Lifecycle(t *testing.T) {
	r := newReplicaArgs(t)

	snap := r.jsonData(t, "snapshot")
	assert.Nil(t, snap["document"], "document does not exist before init")

	initRes := r.jsonData(t, "init")
	assert.Equal(t, "doc", initRes["doc_id"])

	snap = r.jsonData(t, "snapshot")
	assert.Equal(t, map[string]any{
		"items": []any{},
		"root":  map[string]any{"count": 1.0, "message": "hello"},
	}, snap["document"])

	assert.Equal(t, 2.0, r.jsonData(t, "add-count")["count"])
	assert.Equal(t, 3.0, r.jsonData(t, "add-count")["count"])

	stats := r.jsonData(t, "stats")
	assert.Equal(t, 2.0, stats["pending_updates"])

	compact := r.jsonData(t, "compact")
	assert.Equal(t, 2.0, compact["applied"])

	stats = r.jsonData(t, "stats")
	assert.Equal(t, 0.0, stats["pending_updates"])

	out, err := r.run(t, "snapshot")
	require.NoError(t, err)
	assert.Equal(t, `{"items":[],"root":{"count":3,"message":"hello"}}`+"\n", out)
}

func TestOneShotCommands_TextOutput(t *testing.T) {
	r := newReplicaArgs(t)

	out, err := r.run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, `Initialized document "doc"`)

	out, err = r.run(t, "add-count")
	require.NoError(t, err)
	assert.Equal(t, "count = 2\n", out)

	out, err = r.run(t, "compact")
	require.NoError(t, err)
	assert.Contains(t, out, "Folded 1 update(s)")

	out, err = r.run(t, "compact")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to compact\n", out)
}

func TestOneShotCommands_DocOverride(t *testing.T) {
	r := newReplicaArgs(t)

	_, err := r.run(t, "--doc", "other", "init")
	require.NoError(t, err)

	snap := r.jsonData(t, "snapshot")
	assert.Nil(t, snap["document"], "default document untouched")

	snap = r.jsonData(t, "--doc", "other", "snapshot")
	assert.Equal(t, "other", snap["doc_id"])
	assert.NotNil(t, snap["document"])
}

func TestSyncCommand_NoPeer(t *testing.T) {
	r := newReplicaArgs(t)

	out, err := r.run(t, "--format", "json", "sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodePeerUnavailable)
}

func TestSyncCommand_UnreachablePeer(t *testing.T) {
	r := newReplicaArgs(t)
	_, err := r.run(t, "init")
	require.NoError(t, err)

	out, err := r.run(t, "--peer", "http://127.0.0.1:1", "sync")
	require.Error(t, err)
	assert.Contains(t, out, "Error ["+ErrCodePeerUnavailable+"]")
}

func TestInvalidPeerFlag(t *testing.T) {
	r := newReplicaArgs(t)

	_, err := r.run(t, "--peer", "ftp://example.com", "stats")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "must be an http(s) URL")
}

func TestInvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "docsync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sync:\n  compact_peer: sometimes\n"), 0644))

	out, err := execute(t, "--config", cfgPath, "--db", filepath.Join(dir, "x.db"), "stats")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeConfigInvalid+"]")
}

func TestConfigFileDrivesReplica(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "docsync.yaml")
	cfg := "document_id: notes\nstorage:\n  path: " + filepath.Join(dir, "notes.db") + "\nreplica:\n  client_id: 42\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	_, err := execute(t, "--config", cfgPath, "init")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "--format", "json", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"doc_id":"notes"`)

	_, err = os.Stat(filepath.Join(dir, "notes.db"))
	assert.NoError(t, err)
}
