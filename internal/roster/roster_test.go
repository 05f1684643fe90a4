package roster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPrefs struct {
	values map[string]string
	err    error
}

func newMemPrefs() *memPrefs { return &memPrefs{values: map[string]string{}} }

func (m *memPrefs) GetPreference(_ context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memPrefs) SetPreference(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseTasks(t *testing.T) {
	input := strings.Join([]string{
		"# comment",
		"",
		"Set up SSH : keys: ed25519 only",
		"   Configure VLANs   :   ",
		" : orphan description",
		"No description line",
	}, "\n")

	tasks, err := ParseTasks(strings.NewReader(input), "CCNA")
	require.NoError(t, err)

	want := []Task{
		{Name: "Set up SSH", Description: "keys: ed25519 only", Category: "CCNA"},
		{Name: "Configure VLANs", Description: "", Category: "CCNA"},
		{Name: "No description line", Description: "", Category: "CCNA"},
	}
	if diff := cmp.Diff(want, tasks); diff != "" {
		t.Errorf("ParseTasks mismatch (-want +got):\n%s", diff)
	}
}

func TestParseNames(t *testing.T) {
	names, err := ParseNames(strings.NewReader("Alice\n\n  Bob  \n# Mallory\nCarol\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, names)
}

func TestCategoryFor(t *testing.T) {
	assert.Equal(t, "LINUX", CategoryFor("tasks/linux.txt"))
	assert.Equal(t, "AI", CategoryFor("/abs/ai.txt"))
}

func TestLoadTasks_Globs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tasks/linux.txt", "grep : search text\n")
	writeFile(t, dir, "tasks/python.txt", "venv : isolate deps\n")
	writeFile(t, dir, "tasks/extra/ai.txt", "prompting\n")

	t.Run("single glob is lexical", func(t *testing.T) {
		tasks, err := LoadTasks(dir, []string{"tasks/*.txt"})
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "grep", tasks[0].Name)
		assert.Equal(t, "PYTHON", tasks[1].Category)
	})

	t.Run("doublestar recurses and dedupes", func(t *testing.T) {
		tasks, err := LoadTasks(dir, []string{"tasks/**/*.txt", "tasks/linux.txt"})
		require.NoError(t, err)
		assert.Len(t, tasks, 3)
	})

	t.Run("no matches is an error", func(t *testing.T) {
		_, err := LoadTasks(dir, []string{"missing/*.txt"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "matched no files")
	})
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tasks/sysadmin.txt", "backups : rotate\ncron\n")
	writeFile(t, dir, "tasks/ccna.txt", "ospf\n")

	cat, err := LoadCatalog(dir, "tasks/*.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"CCNA", "SYSADMIN"}, cat.Categories)
	assert.Len(t, cat.Tasks["SYSADMIN"], 2)

	all := cat.All()
	require.Len(t, all, 3)
	assert.Equal(t, "ospf", all[0].Name)
}

func TestStore_NamesPersist(t *testing.T) {
	ctx := context.Background()
	prefs := newMemPrefs()

	s := NewStore(prefs)
	added, err := s.AddNames(ctx, "Alice", "  ", "Bob", "Alice")
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.JSONEq(t, `["Alice","Bob","Alice"]`, prefs.values[NamesKey])

	restored := NewStore(prefs)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, []string{"Alice", "Bob", "Alice"}, restored.Names())

	require.NoError(t, restored.RemoveName(ctx, "Alice"))
	assert.Equal(t, []string{"Bob", "Alice"}, restored.Names())

	err = restored.RemoveName(ctx, "Zed")
	assert.True(t, errors.Is(err, ErrNameNotFound))

	require.NoError(t, restored.ClearNames(ctx))
	assert.Empty(t, restored.Names())
	assert.Equal(t, "null", prefs.values[NamesKey])
}

func TestStore_LoadCorruptIsIgnored(t *testing.T) {
	prefs := newMemPrefs()
	prefs.values[NamesKey] = "{not json"
	s := NewStore(prefs)
	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.Names())
}

func TestStore_PersistFailureSurfaces(t *testing.T) {
	prefs := newMemPrefs()
	prefs.err = errors.New("disk full")
	s := NewStore(prefs)

	_, err := s.AddNames(context.Background(), "Alice")
	require.Error(t, err)
	assert.Equal(t, []string{"Alice"}, s.Names(), "in-memory roster still updated")
}

func TestStore_MergeNamesFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "names.txt", "Carol\nAlice\n")

	s := NewStore(newMemPrefs())
	_, err := s.AddNames(ctx, "Alice", "Bob")
	require.NoError(t, err)

	added, err := s.MergeNamesFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"Carol", "Alice", "Bob"}, s.Names())
}

func TestStore_MergeNamesFileCollapsesRepeatedSavedNames(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "names.txt", "Carol\n")

	prefs := newMemPrefs()
	s := NewStore(prefs)
	_, err := s.AddNames(ctx, "Bob", "Bob", "Carol")
	require.NoError(t, err)

	added, err := s.MergeNamesFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, []string{"Carol", "Bob"}, s.Names())
	assert.Equal(t, `["Carol","Bob"]`, prefs.values[NamesKey])
}

func TestStore_TasksAreCopies(t *testing.T) {
	s := NewStore(nil)
	s.SetTasks([]Task{{Name: "a"}, {Name: "b"}})

	tasks := s.Tasks()
	tasks[0].Name = "mutated"
	assert.Equal(t, "a", s.Tasks()[0].Name)

	require.NoError(t, s.SetDescription(1, "  details "))
	assert.Equal(t, "details", s.Tasks()[1].Description)

	err := s.SetDescription(5, "x")
	assert.True(t, errors.Is(err, ErrTaskIndex))

	names, snap := s.Snapshot()
	assert.Empty(t, names)
	assert.Len(t, snap, 2)
}
