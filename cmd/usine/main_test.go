package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "usine version dev\n", out.String())
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"hello"}, "hello"},
		{[]string{"hello", "world"}, "hello world"},
		{[]string{"  spaced  "}, "spaced"},
		{nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, buildSearchQuery(tt.args), "args=%v", tt.args)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "test.db"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	origWd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(origWd) }()
	require.NoError(t, os.Chdir(dir))

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	// On macOS the cwd can be /private/var/... while t.TempDir() is /var/...
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	assert.Equal(t, configPathCanon, resolvedCanon)
	assert.True(t, cfg.Debug)
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, resolved, err := loadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, configPath, resolved)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "test.db"), cfg.Storage.DatabasePath)
}

func TestLoadConfig_missingFile(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func writeLocalConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "data/usine.db"
  bleve_index_path: "data/bleve"
  vector_index_path: "data/vectors.bin"
embedding:
  provider: mock
  dimensions: 8
retrieval:
  min_score: 0.01
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0755))
	return configPath
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestIngestAndStatusLocal(t *testing.T) {
	configPath := writeLocalConfig(t)
	docs := t.TempDir()
	doc := filepath.Join(docs, "boiler.txt")
	require.NoError(t, os.WriteFile(doc, []byte("The boiler pressure should stay between one and two bar."), 0644))

	out, err := runRoot(t, "--config", configPath, "ingest", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "chunks")

	out, err = runRoot(t, "--config", configPath, "ingest", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "unchanged")

	out, err = runRoot(t, "--config", configPath, "status", "--server", "", "-o", "compact")
	require.NoError(t, err)
	assert.Contains(t, out, "documents")
	assert.Contains(t, out, "vector_index_size")

	_, err = runRoot(t, "--config", configPath, "search", "--server", "", "-o", "json", "boiler", "pressure")
	require.NoError(t, err)
}

func TestIngestMissingPath(t *testing.T) {
	configPath := writeLocalConfig(t)
	_, err := runRoot(t, "--config", configPath, "ingest", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestSearchRejectsUnknownOutput(t *testing.T) {
	_, err := runRoot(t, "search", "-o", "xml", "query")
	assert.Error(t, err)
}

type fakeChatClient struct {
	chats    []string
	commands []string
	fail     bool
}

func (f *fakeChatClient) Chat(_ context.Context, _ string, text string, onDelta func(string)) (string, error) {
	f.chats = append(f.chats, text)
	if f.fail {
		return "", errors.New("backend down")
	}
	onDelta("echo: ")
	onDelta(text)
	return "echo: " + text, nil
}

func (f *fakeChatClient) Command(_ context.Context, _ string, text string) (string, error) {
	f.commands = append(f.commands, text)
	return "done", nil
}

func TestRunChat(t *testing.T) {
	client := &fakeChatClient{}
	in := strings.NewReader("hello\n\n>>> help\nexit\nignored\n")
	var out, errOut bytes.Buffer

	require.NoError(t, runChat(context.Background(), client, "k1", in, &out, &errOut))
	assert.Equal(t, []string{"hello"}, client.chats)
	assert.Equal(t, []string{">>> help"}, client.commands)
	assert.Contains(t, out.String(), "session k1")
	assert.Contains(t, out.String(), "echo: hello")
	assert.Contains(t, out.String(), "done")
	assert.Empty(t, errOut.String())
}

func TestRunChat_reportsErrorsAndContinues(t *testing.T) {
	client := &fakeChatClient{fail: true}
	in := strings.NewReader("one\ntwo\n")
	var out, errOut bytes.Buffer

	require.NoError(t, runChat(context.Background(), client, "k1", in, &out, &errOut))
	assert.Equal(t, []string{"one", "two"}, client.chats)
	assert.Equal(t, 2, strings.Count(errOut.String(), "backend down"))
}
