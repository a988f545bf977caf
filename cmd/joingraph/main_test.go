package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/joingraph/internal/reservation"
	"github.com/randalmurphal/joingraph/pkg/joingraph/checkpoint"
)

// offlineEnv keeps tests away from real providers, files and collectors.
func offlineEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JOINGRAPH_CONFIG", "")
	t.Setenv("JOINGRAPH_PROVIDER", reservation.ProviderScripted)
	t.Setenv("JOINGRAPH_CHECKPOINT", "memory")
	t.Setenv("JOINGRAPH_OTEL_ENDPOINT", "")
	t.Setenv("JOINGRAPH_METRICS", "false")
	t.Setenv("JOINGRAPH_LOG_LEVEL", "error")
	t.Setenv("ANTHROPIC_API_KEY", "")
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func TestRun_Reservation(t *testing.T) {
	offlineEnv(t)

	out, err := runCLI(t, "", "Is my reservation for Ana Silva confirmed?")
	require.NoError(t, err)
	assert.Equal(t, "Reservation R-1001 for Ana Silva: deluxe room 204, check-in 2026-06-05, 3 night(s), confirmed.\n", out)
}

func TestRun_QuestionFromStdin(t *testing.T) {
	offlineEnv(t)

	out, err := runCLI(t, "Are pets allowed?\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Dogs and cats")
}

func TestRun_Transcript(t *testing.T) {
	offlineEnv(t)

	out, err := runCLI(t, "", "-transcript", "hello")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "user: hello", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "assistant: "))
}

func TestRun_SQLiteCheckpointsAndConfigFile(t *testing.T) {
	offlineEnv(t)
	dir := t.TempDir()
	cpPath := filepath.Join(dir, "checkpoints.db")
	cfgPath := filepath.Join(dir, "joingraph.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
reservation:
  max_tool_rounds: 2
run:
  max_join_polls: 8
`), 0o600))

	t.Setenv("JOINGRAPH_CONFIG", cfgPath)
	t.Setenv("JOINGRAPH_CHECKPOINT", "sqlite")
	t.Setenv("JOINGRAPH_SQLITE_PATH", cpPath)
	t.Setenv("JOINGRAPH_LOG_FORMAT", "json")

	_, err := runCLI(t, "", "-run-id", "cli-run", "Is my reservation for Ana Silva confirmed?")
	require.NoError(t, err)

	store, err := checkpoint.NewSQLiteStore(cpPath)
	require.NoError(t, err)
	defer store.Close()
	infos, err := store.List(context.Background(), "cli-run")
	require.NoError(t, err)
	assert.NotEmpty(t, infos)
}

func TestRun_RunIDContinuesConversation(t *testing.T) {
	offlineEnv(t)
	t.Setenv("JOINGRAPH_CHECKPOINT", "sqlite")
	t.Setenv("JOINGRAPH_SQLITE_PATH", filepath.Join(t.TempDir(), "checkpoints.db"))

	_, err := runCLI(t, "", "-run-id", "cli-chat", "Is my reservation for Ana Silva confirmed?")
	require.NoError(t, err)

	out, err := runCLI(t, "", "-run-id", "cli-chat", "-transcript", "Is booking R-1001 confirmed?")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "user: Is my reservation for Ana Silva confirmed?", lines[0])
	assert.Equal(t, "user: Is booking R-1001 confirmed?", lines[2])
	assert.Equal(t, "assistant: Reservation R-1001 for Ana Silva: deluxe room 204, check-in 2026-06-05, 3 night(s), confirmed.", lines[3])
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{"resume without run id", nil, []string{"-resume"}, "-resume requires -run-id"},
		{"resume without store", map[string]string{"JOINGRAPH_CHECKPOINT": "none"}, []string{"-resume", "-run-id", "x"}, "checkpoint backend"},
		{"resume unknown run", nil, []string{"-resume", "-run-id", "missing"}, "no checkpoints"},
		{"no question", nil, nil, "no question given"},
		{"unknown flag", nil, []string{"-bogus"}, "flag provided but not defined"},
		{"bad log level", map[string]string{"JOINGRAPH_LOG_LEVEL": "loud"}, []string{"hi"}, "log level"},
		{"bad log format", map[string]string{"JOINGRAPH_LOG_FORMAT": "xml"}, []string{"hi"}, "unknown log format"},
		{"bad backend", map[string]string{"JOINGRAPH_CHECKPOINT": "s3"}, []string{"hi"}, "unknown checkpoint backend"},
		{"missing api key", map[string]string{"JOINGRAPH_PROVIDER": reservation.ProviderAnthropic}, []string{"hi"}, "API key is required"},
		{"unknown provider", map[string]string{"JOINGRAPH_PROVIDER": "local"}, []string{"hi"}, "unknown model provider"},
		{"missing config file", map[string]string{"JOINGRAPH_CONFIG": "/nonexistent/joingraph.yaml"}, []string{"hi"}, "read config file"},
		{"bad timeout", map[string]string{"JOINGRAPH_TIMEOUT": "soon"}, []string{"hi"}, "parse env"},
		{"metrics without endpoint", map[string]string{"JOINGRAPH_METRICS": "true"}, []string{"hi"}, "requires JOINGRAPH_OTEL_ENDPOINT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offlineEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := runCLI(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadQuestion(t *testing.T) {
	q, err := readQuestion([]string{"  Are", "pets allowed?"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "Are pets allowed?", q)

	q, err = readQuestion(nil, strings.NewReader("\n  Hello \n"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", q)
}
