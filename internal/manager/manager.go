package manager

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hexfall/ipavault/internal/domain"
	"github.com/hexfall/ipavault/internal/infra/config"
	"github.com/hexfall/ipavault/internal/infra/logger"
	"github.com/hexfall/ipavault/internal/store"
	"github.com/hexfall/ipavault/internal/validate"
	"github.com/hexfall/ipavault/internal/version"
)

// downloadTimeout is the global per-task wall clock budget.
const downloadTimeout = 8 * time.Hour

// ArchiveInjector appends signature material into a finished archive.
type ArchiveInjector interface {
	Inject(ctx context.Context, archivePath string, sinfs []domain.Sinf, metadataB64 string) error
}

// Options carries the injectable collaborators. A nil ValidateURL or Client
// falls back to validate.DownloadURL or a default client; a nil Injector
// skips injection. Tests swap in their own validator, client or injector.
type Options struct {
	ValidateURL func(string) error
	Client      *http.Client
	Injector    ArchiveInjector
}

// Manager owns every task record, its filesystem artifacts and its
// lifecycle. All mutations run through manager entry points; the per-task
// cancellation and downloader indices live behind the manager mutex.
type Manager struct {
	cfg         *config.Config
	log         *logger.Logger
	store       *store.Store
	injector    ArchiveInjector
	validateURL func(string) error
	client      *http.Client

	mu          sync.Mutex
	cancels     map[string]context.CancelFunc
	downloaders map[string]abortable
	subs        map[string]map[string]*subscriber
}

type abortable interface {
	Abort()
	RemoveParts()
}

func New(cfg *config.Config, log *logger.Logger, st *store.Store, opts Options) *Manager {
	validateURL := opts.ValidateURL
	if validateURL == nil {
		validateURL = validate.DownloadURL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Manager{
		cfg:         cfg,
		log:         log.With("manager"),
		store:       st,
		injector:    opts.Injector,
		validateURL: validateURL,
		client:      client,
		cancels:     make(map[string]context.CancelFunc),
		downloaders: make(map[string]abortable),
		subs:        make(map[string]map[string]*subscriber),
	}
}

// Create validates the request, registers a pending task and kicks off the
// download asynchronously. Validation failures surface here and never
// produce a task.
func (m *Manager) Create(software domain.Software, accountHash, downloadURL string, sinfs []domain.Sinf, metadataB64 string) (*domain.Task, error) {
	if err := m.validateURL(downloadURL); err != nil {
		return nil, err
	}
	if _, err := validate.Segment(accountHash, "account hash"); err != nil {
		return nil, err
	}
	if _, err := validate.Segment(software.BundleID, "bundle ID"); err != nil {
		return nil, err
	}
	if _, err := validate.Segment(software.Version, "version"); err != nil {
		return nil, err
	}

	if sinfs == nil {
		sinfs = []domain.Sinf{}
	}
	task := &domain.Task{
		ID:          uuid.NewString(),
		Software:    software,
		AccountHash: accountHash,
		DownloadURL: downloadURL,
		Sinfs:       sinfs,
		Metadata:    metadataB64,
		Status:      domain.StatusPending,
		Progress:    0,
		Speed:       "0 B/s",
		CreatedAt:   time.Now(),
	}
	m.store.Put(task)

	// Snapshot before the driver goroutine can touch the record
	created := task.Clone()
	go m.startDownload(task.ID)

	return created, nil
}

// Get returns the public projection of one task.
func (m *Manager) Get(id string) (*domain.TaskView, error) {
	t, ok := m.store.Get(id)
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return t.View(fileExists(t.FilePath)), nil
}

// List returns the tasks owned by the given account hashes, newest first.
// Completed tasks carrying the highest version within their
// (account, bundle) group are flagged as latest.
func (m *Manager) List(accountHashes []string) []*domain.TaskView {
	if len(accountHashes) == 0 {
		return []*domain.TaskView{}
	}
	owners := make(map[string]struct{}, len(accountHashes))
	for _, h := range accountHashes {
		if h != "" {
			owners[h] = struct{}{}
		}
	}

	var tasks []*domain.Task
	for _, t := range m.store.List() {
		if _, ok := owners[t.AccountHash]; ok {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	// Highest completed version per (account, bundle)
	newest := make(map[string]string)
	for _, t := range tasks {
		if t.Status != domain.StatusCompleted {
			continue
		}
		key := t.AccountHash + "\x00" + t.Software.BundleID
		if cur, ok := newest[key]; !ok || version.IsNewer(t.Software.Version, cur) {
			newest[key] = t.Software.Version
		}
	}

	views := make([]*domain.TaskView, 0, len(tasks))
	for _, t := range tasks {
		v := t.View(fileExists(t.FilePath))
		if t.Status == domain.StatusCompleted {
			key := t.AccountHash + "\x00" + t.Software.BundleID
			v.Latest = newest[key] == t.Software.Version
		}
		views = append(views, v)
	}
	return views
}

// Pause stops an active download. Valid only while the task is downloading:
// if natural completion already won the race, the caller gets
// ErrNotDownloading. The status flips to paused before the abort fires so
// the awaiting driver suppresses its failure transition.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	t, ok := m.store.Get(id)
	if !ok {
		m.mu.Unlock()
		return domain.ErrTaskNotFound
	}
	if t.Status != domain.StatusDownloading {
		m.mu.Unlock()
		return domain.ErrNotDownloading
	}

	m.store.Update(id, func(t *domain.Task) {
		t.Status = domain.StatusPaused
		t.Speed = "0 B/s"
	})

	if cancel := m.cancels[id]; cancel != nil {
		cancel()
	}
	if dl := m.downloaders[id]; dl != nil {
		dl.Abort()
	}
	m.mu.Unlock()

	m.notify(id)
	return nil
}

// Resume restarts a paused task from byte zero; there is no partial-chunk
// state to pick up.
func (m *Manager) Resume(id string) error {
	t, ok := m.store.Get(id)
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.Status != domain.StatusPaused {
		return domain.ErrNotPaused
	}
	go m.startDownload(id)
	return nil
}

// Delete aborts any in-flight download, removes the artifact and its
// now-empty parent directories, drops the task and rewrites the snapshot.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	if cancel := m.cancels[id]; cancel != nil {
		cancel()
	}
	delete(m.cancels, id)
	dl := m.downloaders[id]
	delete(m.downloaders, id)
	m.closeSubscribersLocked(id)
	m.mu.Unlock()

	if dl != nil {
		dl.Abort()
	}

	t, ok := m.store.Get(id)
	if !ok {
		return domain.ErrTaskNotFound
	}

	if t.FilePath != "" {
		m.removeArtifact(t.FilePath)
	}

	m.store.Delete(id)
	if err := m.store.Persist(); err != nil {
		m.log.Error("persisting after delete: %v", err)
	}
	return nil
}

// removeArtifact unlinks the file and walks upward removing directories left
// empty, stopping at the packages base. Refuses anything outside the base.
func (m *Manager) removeArtifact(filePath string) {
	base := m.store.PackagesDir()
	sep := string(os.PathSeparator)
	if !strings.HasPrefix(filePath, base+sep) {
		m.log.Warn("refusing to remove file outside packages base: %s", filePath)
		return
	}

	os.Remove(filePath)

	for dir := filepath.Dir(filePath); dir != base && strings.HasPrefix(dir, base+sep); dir = filepath.Dir(dir) {
		// Remove fails on non-empty directories, which ends the walk.
		if err := os.Remove(dir); err != nil {
			break
		}
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
