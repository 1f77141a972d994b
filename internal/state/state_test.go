package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralsh/coral/internal/job"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := New(job.NewTable())
	require.NoError(t, err)
	return s
}

func TestChdirUpdatesCwdAndEnv(t *testing.T) {
	s := newTestState(t)
	orig := s.Cwd()
	t.Cleanup(func() { _ = os.Chdir(orig) })

	dir := t.TempDir()
	require.NoError(t, s.Chdir(dir))

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(s.Cwd())
	require.NoError(t, err)
	assert.Equal(t, resolved, got)

	oldpwd, ok := s.Getenv("OLDPWD")
	require.True(t, ok)
	assert.Equal(t, orig, oldpwd)
}

func TestChdirRejectsMissingAndNonDir(t *testing.T) {
	s := newTestState(t)

	err := s.Chdir("/definitely/not/here")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	err = s.Chdir(file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestEnvSnapshotIsSessionLocal(t *testing.T) {
	s := newTestState(t)

	s.Setenv("CORAL_TEST_ONLY", "42")
	v, ok := s.Getenv("CORAL_TEST_ONLY")
	require.True(t, ok)
	assert.Equal(t, "42", v)

	// The snapshot does not leak into the process environment.
	assert.Empty(t, os.Getenv("CORAL_TEST_ONLY"))

	assert.Contains(t, s.Environ(), "CORAL_TEST_ONLY=42")
	s.Unsetenv("CORAL_TEST_ONLY")
	_, ok = s.Getenv("CORAL_TEST_ONLY")
	assert.False(t, ok)
}

func TestHistoryAppendRules(t *testing.T) {
	h := NewHistory(3)

	h.Append("")
	h.Append("ls")
	h.Append("ls") // consecutive duplicate dropped
	h.Append("pwd")
	assert.Equal(t, []string{"ls", "pwd"}, h.Entries(0))

	h.Append("date")
	h.Append("echo hi")
	assert.Equal(t, []string{"pwd", "date", "echo hi"}, h.Entries(0), "oldest entries fall off")
	assert.Equal(t, []string{"echo hi"}, h.Entries(1))
}

func TestHistorySaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "history.gz")

	h := NewHistory(0)
	h.Append("ls -la")
	h.Append("cat /etc/hostname | wc -c")
	h.Append("sleep 10 &")
	require.NoError(t, h.Save(path))

	loaded := NewHistory(0)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, h.Entries(0), loaded.Entries(0))
}

func TestHistoryLoadMissingFile(t *testing.T) {
	h := NewHistory(0)
	require.NoError(t, h.Load(filepath.Join(t.TempDir(), "absent.gz")))
	assert.Zero(t, h.Len())
}
