package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hexfall/ipavault/internal/domain"
	"github.com/hexfall/ipavault/internal/infra/logger"
)

const (
	snapshotFile = "tasks.json"
	// legacySnapshotFile predates the tasks.json format and is removed on
	// startup.
	legacySnapshotFile = "downloads.json"
)

// Store owns the in-memory task map and its on-disk snapshot. Only completed
// tasks with an existing artifact are ever written to disk; everything else
// lives and dies with the process.
type Store struct {
	mu          sync.RWMutex
	dataDir     string
	packagesDir string
	tasks       map[string]*domain.Task
	log         *logger.Logger
}

// persistedTask is the snapshot projection. DownloadURL and Sinfs are part
// of the wire format but always empty: secrets never reach disk.
type persistedTask struct {
	ID          string          `json:"id"`
	Software    domain.Software `json:"software"`
	AccountHash string          `json:"accountHash"`
	DownloadURL string          `json:"downloadURL"`
	Sinfs       []domain.Sinf   `json:"sinfs"`
	Status      domain.Status   `json:"status"`
	Progress    int             `json:"progress"`
	Speed       string          `json:"speed"`
	FilePath    string          `json:"filePath"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// New prepares the data directory, loads the snapshot and sweeps the
// packages tree of anything no admitted task owns.
func New(dataDir string, log *logger.Logger) (*Store, error) {
	s := &Store{
		dataDir:     dataDir,
		packagesDir: filepath.Join(dataDir, "packages"),
		tasks:       make(map[string]*domain.Task),
		log:         log,
	}

	if err := os.MkdirAll(s.packagesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create packages directory: %w", err)
	}

	// Migration hygiene: the pre-tasks.json snapshot is never read again.
	os.Remove(filepath.Join(dataDir, legacySnapshotFile))

	s.load()
	s.sweepOrphans()

	return s, nil
}

// PackagesDir returns the root every task artifact must live under.
func (s *Store) PackagesDir() string {
	return s.packagesDir
}

// load reads the snapshot, admitting only completed tasks whose artifact is
// still on disk. A corrupt snapshot is logged and treated as empty.
func (s *Store) load() {
	data, err := os.ReadFile(filepath.Join(s.dataDir, snapshotFile))
	if err != nil {
		return
	}

	var persisted []persistedTask
	if err := json.Unmarshal(data, &persisted); err != nil {
		s.log.Warn("corrupt task snapshot, starting empty: %v", err)
		return
	}

	admitted := 0
	for _, p := range persisted {
		if p.Status != domain.StatusCompleted {
			continue
		}
		if p.FilePath == "" {
			continue
		}
		if _, err := os.Stat(p.FilePath); err != nil {
			continue
		}
		s.tasks[p.ID] = &domain.Task{
			ID:          p.ID,
			Software:    p.Software,
			AccountHash: p.AccountHash,
			Sinfs:       []domain.Sinf{},
			Status:      p.Status,
			Progress:    p.Progress,
			Speed:       p.Speed,
			FilePath:    p.FilePath,
			CreatedAt:   p.CreatedAt,
		}
		admitted++
	}
	s.log.Info("loaded %d completed task(s) from snapshot", admitted)
}

// sweepOrphans removes every file under packages/ that no admitted task
// owns, then prunes the directories left empty.
func (s *Store) sweepOrphans() {
	owned := make(map[string]struct{}, len(s.tasks))
	for _, t := range s.tasks {
		owned[t.FilePath] = struct{}{}
	}

	var dirs []string
	filepath.WalkDir(s.packagesDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != s.packagesDir {
				dirs = append(dirs, p)
			}
			return nil
		}
		if _, ok := owned[p]; !ok {
			s.log.Info("removing orphaned file %s", p)
			os.Remove(p)
		}
		return nil
	})

	// Deepest first so emptied parents fall too. Rmdir refuses non-empty
	// directories, which is exactly the behavior wanted here.
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i])
	}
}

// Persist rewrites the whole snapshot from the completed tasks whose files
// still exist. Callers serialize through the store lock, which is held for
// the whole rewrite.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted := make([]persistedTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.Status != domain.StatusCompleted {
			continue
		}
		if _, err := os.Stat(t.FilePath); err != nil {
			continue
		}
		persisted = append(persisted, persistedTask{
			ID:          t.ID,
			Software:    t.Software,
			AccountHash: t.AccountHash,
			DownloadURL: "",
			Sinfs:       []domain.Sinf{},
			Status:      t.Status,
			Progress:    t.Progress,
			Speed:       t.Speed,
			FilePath:    t.FilePath,
			CreatedAt:   t.CreatedAt,
		})
	}

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, snapshotFile), data, 0644)
}

// Put inserts or replaces a task.
func (s *Store) Put(t *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// Get returns a deep copy so callers never see later mutations.
func (s *Store) Get(id string) (*domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Update applies fn to the task under the store lock. Returns false for an
// unknown id.
func (s *Store) Update(id string, fn func(*domain.Task)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	fn(t)
	return true
}

// Delete drops the task from the map.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// List returns deep copies of every task.
func (s *Store) List() []*domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	return out
}
