package download

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, mode os.FileMode) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), mode))
}

func TestExecutableLocator(t *testing.T) {
	t.Run("top level exe wins", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "bin", "tool.exe"), 0o644)
		writeFile(t, filepath.Join(dir, "Game.EXE"), 0o644)

		got, err := DefaultLocator().Locate(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "Game.EXE"), got)
	})

	t.Run("nested exe within depth", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a", "b", "game.exe"), 0o644)

		got, err := DefaultLocator().Locate(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "a", "b", "game.exe"), got)
	})

	t.Run("too deep", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a", "b", "c", "game.exe"), 0o644)

		_, err := DefaultLocator().Locate(dir)
		assert.ErrorIs(t, err, ErrNoExecutable)
	})

	t.Run("exec bit fallback", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("execute bits are not used on windows")
		}

		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "readme.txt"), 0o644)
		writeFile(t, filepath.Join(dir, "bin", "game.x86_64"), 0o755)

		got, err := DefaultLocator().Locate(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "bin", "game.x86_64"), got)
	})
}

func TestLocatorFunc(t *testing.T) {
	l := LocatorFunc(func(dir string) (string, error) { return filepath.Join(dir, "run"), nil })

	got, err := l.Locate("/games/x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/games/x", "run"), got)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "space-game", SafeName("Space Game"))
	assert.Equal(t, "portal-2-the-sequel", SafeName("Portal 2: The Sequel"))
	assert.Equal(t, "g-42", SafeName("???", "g-42"))
	assert.Equal(t, "game", SafeName("", ""))
	assert.NotContains(t, SafeName("../../etc"), "/")
}

func TestGameInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	in := GameInfo{
		ID:          "g1",
		Name:        "Space Game",
		InstallPath: dir,
		Executable:  filepath.Join(dir, "game.exe"),
		Version:     "1.0",
		InstalledAt: at,
	}
	require.NoError(t, WriteGameInfo(dir, in))

	raw, err := os.ReadFile(filepath.Join(dir, GameInfoFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"installed_at": "2024-05-01T12:00:00Z"`)
	assert.Contains(t, string(raw), `"install_path"`)

	out, err := ReadGameInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRecordSnapshot(t *testing.T) {
	rec := newRecord(request("d1"), "/g", "/g/x.download", 50)
	rec.swap(newAttempt())
	rec.begin(50, 200)
	rec.add(50)

	info := rec.snapshot()
	assert.Equal(t, int64(100), info.Downloaded)
	assert.Equal(t, int64(200), info.Total)
	assert.InDelta(t, 50.0, info.Percentage, 0.0001)
	assert.Equal(t, StateDownloading, info.State)
	assert.False(t, info.Paused)

	rec.stop()
	info = rec.snapshot()
	assert.True(t, info.Paused)
	assert.Equal(t, StatePaused, info.State)

	unknown := newRecord(request("d2"), "/g", "/g/y.download", 0)
	unknown.begin(0, 0)
	unknown.add(10)
	assert.Zero(t, unknown.snapshot().Percentage)

	downloaded, total := unknown.settle()
	assert.Equal(t, int64(10), downloaded)
	assert.Equal(t, int64(10), total)
}
