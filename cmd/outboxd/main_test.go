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
	"gopkg.in/yaml.v3"

	"github.com/jdziat/durable-outbox/pkg/api"
	"github.com/jdziat/durable-outbox/pkg/scheduler"
)

// ═══════════════════════════════════════════════════════════════════════════
// Output helpers
// ═══════════════════════════════════════════════════════════════════════════

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{"table", "json", "yaml"} {
		assert.NoError(t, checkFormat(f))
	}
	assert.Error(t, checkFormat("csv"))
}

func TestWriteYAML_KeepsOrderAndArgs(t *testing.T) {
	views := []api.JobView{{
		ID:     4,
		Kind:   "rpc",
		Target: "transfer_volume",
		Args:   json.RawMessage(`{"from":"T1","to":"T2","liters":500}`),
	}}

	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, views))
	out := buf.String()

	assert.Less(t, strings.Index(out, "id:"), strings.Index(out, "kind:"))
	assert.NotContains(t, out, "{")

	var back []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	require.Len(t, back, 1)
	assert.Equal(t, "transfer_volume", back[0]["target"])
	args := back[0]["args"].(map[string]any)
	assert.Equal(t, 500, args["liters"])
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, []string{"ID", "TARGET"}, [][]string{{"1", "create_batch"}}))
	assert.Contains(t, buf.String(), "create_batch")
	assert.Contains(t, buf.String(), "TARGET")

	buf.Reset()
	require.NoError(t, writeTable(&buf, []string{"ID"}, nil))
	assert.Contains(t, buf.String(), "(none)")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestParseObject(t *testing.T) {
	v, err := parseObject("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parseObject(`{"size": 20}`)
	require.NoError(t, err)
	assert.EqualValues(t, 20, v["size"])

	_, err = parseObject(`[1,2]`)
	assert.Error(t, err)
}

func TestParseID(t *testing.T) {
	id, err := parseID("12")
	require.NoError(t, err)
	assert.EqualValues(t, 12, id)

	_, err = parseID("0")
	assert.Error(t, err)
	_, err = parseID("x")
	assert.Error(t, err)
}

func TestRenderState(t *testing.T) {
	out := renderState(scheduler.State{IsOnline: true, Pending: 3})
	assert.Contains(t, out, "Online")
	assert.Contains(t, out, "Pending: 3")
	assert.NotContains(t, out, "Sync error")

	out = renderState(scheduler.State{Pending: 1, LastError: "volume exceeds capacity"})
	assert.Contains(t, out, "Offline")
	assert.Contains(t, out, "Sync error: volume exceeds capacity")
}

// ═══════════════════════════════════════════════════════════════════════════
// Commands
// ═══════════════════════════════════════════════════════════════════════════

// run executes the root command in capture-only mode against a temp store.
func run(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", cfgPath, "--env-file", ""))
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestCommands_CaptureListRemove(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "outboxd.yaml")
	body := "db:\n  dsn: " + filepath.Join(dir, "outbox.db") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	out := run(t, cfgPath, "enqueue", "insert", "haccp_cleaning", `{"area":"kitchen"}`)
	assert.Contains(t, out, "Captured as job 1")

	out = run(t, cfgPath, "enqueue", "rpc", "create_batch", `{"size":20}`)
	assert.Contains(t, out, "Captured as job 2")

	out = run(t, cfgPath, "jobs", "--format", "json")
	var views []api.JobView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "haccp_cleaning", views[0].Target)
	assert.Equal(t, "create_batch", views[1].Target)

	out = run(t, cfgPath, "status", "--json")
	var st struct {
		IsOnline bool  `json:"isOnline"`
		Pending  int64 `json:"pending"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.False(t, st.IsOnline)
	assert.EqualValues(t, 2, st.Pending)

	out = run(t, cfgPath, "remove", "1")
	assert.Contains(t, out, "Removed job 1")

	out = run(t, cfgPath, "jobs", "--format", "json")
	views = nil
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.EqualValues(t, 2, views[0].ID)

	out = run(t, cfgPath, "sync")
	assert.Contains(t, out, "Backend unreachable")
}
