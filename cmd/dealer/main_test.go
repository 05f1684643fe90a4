package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskdealer/internal/config"
	"taskdealer/internal/partition"
	"taskdealer/internal/roster"
)

// setupWorkspace points the command globals at a fresh temp workspace.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	logger = zap.NewNop()
	ws := t.TempDir()
	workspace = ws
	cfg = config.DefaultConfig()
	cfg.Roster.NamesFile = ""
	t.Cleanup(func() {
		workspace = ""
		cfg = nil
		dealTasks = nil
		dealTUI = false
		timeout = 0
	})
	return ws
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func bufferedCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.Flags().Bool("catalog", false, "")
	return cmd, &buf
}

func TestReadSelections(t *testing.T) {
	all := []roster.Task{{Name: "grep"}, {Name: "sed"}, {Name: "awk"}}
	groups := [][]string{{"Ann", "Bob"}, {"Cid"}}

	var out bytes.Buffer
	got, err := readSelections(strings.NewReader("1, 3\n\n"), &out, groups, all)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []roster.Task{all[0], all[2]}, got[0])
	assert.Empty(t, got[1])
	assert.Contains(t, out.String(), "Ann (Driver), Bob (Navigator)")
}

func TestReadSelections_RejectsOutOfRange(t *testing.T) {
	all := []roster.Task{{Name: "grep"}}
	_, err := readSelections(strings.NewReader("2\n"), &bytes.Buffer{}, [][]string{{"Ann"}}, all)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 1 and 1")
}

func TestReadSelections_ShortInput(t *testing.T) {
	all := []roster.Task{{Name: "grep"}}
	got, err := readSelections(strings.NewReader("1\n"), &bytes.Buffer{}, [][]string{{"Ann"}, {"Bob"}}, all)
	require.NoError(t, err)
	assert.Len(t, got[0], 1)
	assert.Empty(t, got[1])
}

func TestApplyDescriptions(t *testing.T) {
	rs := roster.NewStore(nil)
	rs.SetTasks([]roster.Task{{Name: "grep"}, {Name: "sed"}})

	require.NoError(t, applyDescriptions(rs, []string{"2= stream editing "}))
	assert.Equal(t, "stream editing", rs.Tasks()[1].Description)

	assert.Error(t, applyDescriptions(rs, []string{"no-equals"}))
	assert.Error(t, applyDescriptions(rs, []string{"x=y"}))
	assert.ErrorIs(t, applyDescriptions(rs, []string{"9=out of range"}), roster.ErrTaskIndex)
}

func TestPrintAssignments(t *testing.T) {
	var out bytes.Buffer
	printAssignments(&out, []partition.Assignment{
		{ID: 0, MembersWithRoles: []string{"Ann (Driver)", "Bob (Navigator)"}, TaskName: "grep"},
		{ID: 1, MembersWithRoles: []string{"Cid"}, TaskName: "sed"},
	})
	s := out.String()
	assert.Contains(t, s, "=== Task Assignments ===")
	assert.Contains(t, s, " 1. Ann (Driver), Bob (Navigator) — grep")
	assert.Contains(t, s, " 2. Cid — sed")
}

func TestRunTasks(t *testing.T) {
	ws := setupWorkspace(t)
	writeFile(t, filepath.Join(ws, "tasks", "linux.txt"), "grep : search text\n# comment\nsed : edit streams\n")
	dealTasks = []string{"tasks/*.txt"}

	cmd, buf := bufferedCmd()
	require.NoError(t, runTasks(cmd, nil))
	out := buf.String()
	assert.Contains(t, out, "1. [LINUX] grep : search text")
	assert.Contains(t, out, "2 tasks")
}

func TestRunTasks_Catalog(t *testing.T) {
	ws := setupWorkspace(t)
	writeFile(t, filepath.Join(ws, "tasks", "linux.txt"), "grep : search\n")
	writeFile(t, filepath.Join(ws, "tasks", "ai.txt"), "prompting : write prompts\n")

	cmd, buf := bufferedCmd()
	require.NoError(t, cmd.Flags().Set("catalog", "true"))
	require.NoError(t, runTasks(cmd, nil))
	out := buf.String()
	assert.Less(t, strings.Index(out, "[AI]"), strings.Index(out, "[LINUX]"))
	assert.Contains(t, out, "   2. grep")
}

func TestRunTasks_MissingSource(t *testing.T) {
	setupWorkspace(t)
	dealTasks = []string{"nope/*.txt"}
	cmd, _ := bufferedCmd()
	assert.Error(t, runTasks(cmd, nil))
}

func TestNamesCommands(t *testing.T) {
	ws := setupWorkspace(t)

	cmd, buf := bufferedCmd()
	require.NoError(t, namesAddCmd.RunE(cmd, []string{"Ann", "Bob", "  "}))
	assert.Contains(t, buf.String(), "roster has 2 names")

	// Reopening reads the persisted roster.
	buf.Reset()
	require.NoError(t, namesListCmd.RunE(cmd, nil))
	assert.Contains(t, buf.String(), "  1. Ann")
	assert.Contains(t, buf.String(), "  2. Bob")

	buf.Reset()
	require.NoError(t, namesRemoveCmd.RunE(cmd, []string{"Ann"}))
	assert.ErrorIs(t, namesRemoveCmd.RunE(cmd, []string{"Zed"}), roster.ErrNameNotFound)

	writeFile(t, filepath.Join(ws, "class.txt"), "Cid\nBob\n")
	buf.Reset()
	require.NoError(t, namesLoadCmd.RunE(cmd, []string{"class.txt"}))
	assert.Contains(t, buf.String(), "1 new, roster has 2 names")

	require.NoError(t, namesClearCmd.RunE(cmd, nil))
	buf.Reset()
	require.NoError(t, namesListCmd.RunE(cmd, nil))
	assert.Contains(t, buf.String(), "0 names")
}

func TestEndpointsCommands(t *testing.T) {
	ws := setupWorkspace(t)
	writeFile(t, filepath.Join(ws, cfg.Backend.EndpointsFile),
		"http://gpu-a:11434|llama3\nhttp://gpu-b:11434|qwen2\n")

	cmd, buf := bufferedCmd()
	require.NoError(t, endpointsListCmd.RunE(cmd, nil))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "* 1."))

	buf.Reset()
	require.NoError(t, endpointsSelectCmd.RunE(cmd, []string{"2"}))
	assert.Contains(t, buf.String(), "qwen2")

	buf.Reset()
	require.NoError(t, endpointsListCmd.RunE(cmd, nil))
	lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.True(t, strings.HasPrefix(lines[1], "* 2."))
}

func TestResolve(t *testing.T) {
	setupWorkspace(t)
	assert.Equal(t, "", resolve(""))
	assert.Equal(t, filepath.Join(workspace, "tasks/a.txt"), resolve("tasks/a.txt"))
	abs := filepath.Join(t.TempDir(), "x")
	assert.Equal(t, abs, resolve(abs))
}

func TestFindTask(t *testing.T) {
	tasks := []roster.Task{{Name: "Docker"}, {Name: "grep"}}
	got, ok := findTask(tasks, "docker")
	assert.True(t, ok)
	assert.Equal(t, "Docker", got.Name)
	_, ok = findTask(tasks, "kubectl")
	assert.False(t, ok)
}

func TestBatchContext_NoDeadlineByDefault(t *testing.T) {
	setupWorkspace(t)
	cfg.Backend.RequestTimeout = "1ms"

	ctx, cancel := batchContext()
	defer cancel()
	_, bounded := ctx.Deadline()
	assert.False(t, bounded, "request timeout must not bound the whole batch")

	// Single-request commands still use it.
	one, cancelOne := commandContext(true)
	defer cancelOne()
	_, bounded = one.Deadline()
	assert.True(t, bounded)
}

func TestBatchContext_ExplicitTimeout(t *testing.T) {
	setupWorkspace(t)
	timeout = time.Hour

	ctx, cancel := batchContext()
	defer cancel()
	deadline, bounded := ctx.Deadline()
	require.True(t, bounded)
	assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Minute)

	dealTUI = true
	tuiCtx, cancelTUI := batchContext()
	defer cancelTUI()
	_, bounded = tuiCtx.Deadline()
	assert.False(t, bounded)
}
