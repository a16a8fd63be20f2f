package store

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexfall/ipavault/internal/domain"
	"github.com/hexfall/ipavault/internal/infra/logger"
)

func testLogger() *logger.Logger {
	return logger.NewWriter(io.Discard, logger.LevelError)
}

func newStore(t *testing.T, dataDir string) *Store {
	t.Helper()
	s, err := New(dataDir, testLogger())
	require.NoError(t, err)
	return s
}

// writeArtifact creates a file where a task's FilePath points.
func writeArtifact(t *testing.T, s *Store, segments ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{s.PackagesDir()}, segments...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("ipa-bytes"), 0644))
	return path
}

func completedTask(id, filePath string) *domain.Task {
	return &domain.Task{
		ID:          id,
		Software:    domain.Software{Name: "Demo", BundleID: "com.example.demo", Version: "1.0"},
		AccountHash: "acct1",
		Sinfs:       []domain.Sinf{},
		Status:      domain.StatusCompleted,
		Progress:    100,
		Speed:       "0 B/s",
		FilePath:    filePath,
		CreatedAt:   time.Now(),
	}
}

func TestPersistAndReload(t *testing.T) {
	dataDir := t.TempDir()
	s := newStore(t, dataDir)

	file := writeArtifact(t, s, "acct1", "com.example.demo", "1.0", "task1.ipa")
	s.Put(completedTask("task1", file))
	require.NoError(t, s.Persist())

	reloaded := newStore(t, dataDir)
	got, ok := reloaded.Get("task1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, file, got.FilePath)
	assert.Empty(t, got.DownloadURL)
	assert.Empty(t, got.Sinfs)
}

func TestPersistOnlyCompletedWithFiles(t *testing.T) {
	dataDir := t.TempDir()
	s := newStore(t, dataDir)

	okFile := writeArtifact(t, s, "acct1", "com.example.demo", "1.0", "done.ipa")
	s.Put(completedTask("done", okFile))

	// Completed but the artifact is gone
	s.Put(completedTask("gone", filepath.Join(s.PackagesDir(), "nope.ipa")))

	// Still downloading
	active := completedTask("active", okFile)
	active.Status = domain.StatusDownloading
	s.Put(active)

	require.NoError(t, s.Persist())

	data, err := os.ReadFile(filepath.Join(dataDir, "tasks.json"))
	require.NoError(t, err)
	var persisted []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, "done", persisted[0]["id"])
}

func TestSnapshotNeverContainsSecrets(t *testing.T) {
	dataDir := t.TempDir()
	s := newStore(t, dataDir)

	file := writeArtifact(t, s, "acct1", "com.example.demo", "1.0", "t.ipa")
	task := completedTask("t", file)
	task.DownloadURL = "https://iosapps.itunes.apple.com/leak"
	task.Sinfs = []domain.Sinf{{ID: 0, Data: "c2VjcmV0"}}
	s.Put(task)
	require.NoError(t, s.Persist())

	data, err := os.ReadFile(filepath.Join(dataDir, "tasks.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "leak")
	assert.NotContains(t, string(data), "c2VjcmV0")
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "tasks.json"), []byte("{nope"), 0644))

	s := newStore(t, dataDir)
	assert.Empty(t, s.List())
}

func TestLegacySnapshotRemoved(t *testing.T) {
	dataDir := t.TempDir()
	legacy := filepath.Join(dataDir, "downloads.json")
	require.NoError(t, os.WriteFile(legacy, []byte("[]"), 0644))

	newStore(t, dataDir)
	assert.NoFileExists(t, legacy)
}

func TestLoadSkipsMissingFiles(t *testing.T) {
	dataDir := t.TempDir()
	s := newStore(t, dataDir)

	file := writeArtifact(t, s, "acct1", "com.example.demo", "1.0", "t.ipa")
	s.Put(completedTask("t", file))
	require.NoError(t, s.Persist())
	require.NoError(t, os.Remove(file))

	reloaded := newStore(t, dataDir)
	assert.Empty(t, reloaded.List())
}

func TestSweepRemovesOrphans(t *testing.T) {
	dataDir := t.TempDir()
	s := newStore(t, dataDir)

	owned := writeArtifact(t, s, "acct1", "com.example.demo", "1.0", "owned.ipa")
	s.Put(completedTask("owned", owned))
	require.NoError(t, s.Persist())

	orphan := writeArtifact(t, s, "acct2", "com.example.other", "2.0", "orphan.ipa")

	reloaded := newStore(t, dataDir)

	assert.FileExists(t, owned)
	assert.NoFileExists(t, orphan)
	// The orphan's now-empty directory chain is pruned
	assert.NoDirExists(t, filepath.Join(reloaded.PackagesDir(), "acct2"))
}

func TestUpdateAndDelete(t *testing.T) {
	s := newStore(t, t.TempDir())

	task := completedTask("t", "")
	task.Status = domain.StatusPending
	s.Put(task)

	ok := s.Update("t", func(t *domain.Task) { t.Progress = 50 })
	assert.True(t, ok)

	got, _ := s.Get("t")
	assert.Equal(t, 50, got.Progress)

	// Get hands out copies, not the live record
	got.Progress = 99
	again, _ := s.Get("t")
	assert.Equal(t, 50, again.Progress)

	s.Delete("t")
	_, found := s.Get("t")
	assert.False(t, found)
	assert.False(t, s.Update("t", func(t *domain.Task) {}))
}
