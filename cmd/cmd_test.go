package cmd_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Emyrk/callgraph/cmd"
)

const folded = "main;foo;bar 10\nmain;foo 5\n"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	inv := cmd.New().RootCmd().Invoke(args...)
	inv.Stdin = strings.NewReader(stdin)
	inv.Stdout = &stdout
	inv.Stderr = io.Discard
	err := inv.Run()
	return stdout.String(), err
}

func TestGraphJSON(t *testing.T) {
	out, err := run(t, folded, "graph", "--format", "folded", "--output", "json")
	require.NoError(t, err)

	var got struct {
		GrandTotal int64 `json:"grand_total"`
		Nodes      []struct {
			Index     int    `json:"index"`
			Name      string `json:"name"`
			TotalTime int64  `json:"total_time"`
		} `json:"nodes"`
		Edges []struct {
			Caller int   `json:"caller"`
			Callee int   `json:"callee"`
			Time   int64 `json:"time"`
		} `json:"edges"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, int64(15), got.GrandTotal)
	require.Len(t, got.Nodes, 3)
	require.Equal(t, "main", got.Nodes[0].Name)
	require.Equal(t, "foo", got.Nodes[1].Name)
	require.Equal(t, "bar", got.Nodes[2].Name)
	require.Len(t, got.Edges, 2)
	require.Equal(t, 0, got.Edges[0].Caller)
	require.Equal(t, 1, got.Edges[0].Callee)
	require.Equal(t, int64(15), got.Edges[0].Time)
}

func TestGraphTextFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stacks.folded")
	require.NoError(t, os.WriteFile(path, []byte(folded), 0o644))

	out, err := run(t, "", "graph", "--input", path, "--top", "1")
	require.NoError(t, err)
	require.Contains(t, out, "total")
	require.Contains(t, out, "100.00%")
	require.Contains(t, out, "main -> foo")
	require.NotContains(t, out, "foo -> bar")
}

func TestGraphErrors(t *testing.T) {
	_, err := run(t, "main;foo -1\n", "graph", "--format", "folded")
	require.ErrorContains(t, err, "negative value")

	_, err = run(t, "not a profile", "graph")
	require.Error(t, err)

	_, err = run(t, folded, "graph", "--format", "folded", "--sample", "cpu")
	require.ErrorContains(t, err, "cpu")
}

func TestLoadWatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - name: api
    path: /var/profiles/api.pb.gz
    sample_type: cpu
    interval: 30s
    recursion_once: true
    top_n: 20
    constant_labels:
      team: platform
  - name: worker
    path: /var/profiles/worker.folded
`), 0o644))

	config, err := cmd.LoadWatchConfig(path)
	require.NoError(t, err)
	require.Len(t, config.Sources, 2)

	api := config.Sources[0]
	require.Equal(t, "api", api.Name)
	require.Equal(t, "cpu", api.SampleType)
	require.Equal(t, 30*time.Second, api.Interval)
	require.True(t, api.RecursionOnce)
	require.Equal(t, 20, api.TopN)
	require.Equal(t, "platform", api.ConstLabels["team"])

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("sources: []\n"), 0o644))
	_, err = cmd.LoadWatchConfig(empty)
	require.Error(t, err)

	_, err = cmd.LoadWatchConfig(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLogger(t *testing.T) {
	r := cmd.New()
	r.LogLevel = "warn"
	var stderr bytes.Buffer
	inv := r.RootCmd().Invoke("version")
	inv.Stderr = &stderr
	logger := r.Logger(inv)
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Warn().Msg("hello")
	require.Contains(t, stderr.String(), `"boot_id"`)
}

func writeWatchConfig(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	profile := filepath.Join(dir, "stacks.folded")
	require.NoError(t, os.WriteFile(profile, []byte(folded), 0o644))

	var config strings.Builder
	config.WriteString("sources:\n")
	for _, name := range names {
		config.WriteString("  - name: " + name + "\n")
		config.WriteString("    path: " + profile + "\n")
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config.String()), 0o644))
	return path
}

func TestWatch(t *testing.T) {
	t.Run("shutdown", func(t *testing.T) {
		path := writeWatchConfig(t, "api", "worker")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		inv := cmd.New().RootCmd().Invoke("watch", "--config", path, "--listen", "127.0.0.1:0").WithContext(ctx)
		inv.Stdout = io.Discard
		inv.Stderr = io.Discard
		require.NoError(t, inv.Run())
	})

	t.Run("duplicate source", func(t *testing.T) {
		path := writeWatchConfig(t, "api", "api")

		inv := cmd.New().RootCmd().Invoke("watch", "--config", path, "--listen", "127.0.0.1:0")
		inv.Stdout = io.Discard
		inv.Stderr = io.Discard
		err := inv.Run()
		require.ErrorContains(t, err, "register watcher")
		require.ErrorContains(t, err, "api")
	})
}

func TestDemo(t *testing.T) {
	out, err := run(t, "", "demo", "--output", "json")
	require.NoError(t, err)

	var got struct {
		GrandTotal int64 `json:"grand_total"`
		Nodes      []struct {
			Index int    `json:"index"`
			Name  string `json:"name"`
		} `json:"nodes"`
		Edges []struct {
			Caller int   `json:"caller"`
			Callee int   `json:"callee"`
			Time   int64 `json:"time"`
		} `json:"edges"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Positive(t, got.GrandTotal)

	names := make(map[int]string, len(got.Nodes))
	for _, n := range got.Nodes {
		names[n.Index] = n.Name
	}

	found := false
	for _, e := range got.Edges {
		if strings.HasSuffix(names[e.Caller], "workdemo.Root") &&
			strings.HasSuffix(names[e.Callee], "workdemo.CallStackOne") {
			require.Positive(t, e.Time)
			found = true
		}
	}
	require.True(t, found, "no workdemo.Root -> workdemo.CallStackOne edge in %s", out)
}
