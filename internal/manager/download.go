package manager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/hexfall/ipavault/internal/domain"
	"github.com/hexfall/ipavault/internal/downloader"
	"github.com/hexfall/ipavault/internal/infra/config"
	"github.com/hexfall/ipavault/internal/validate"
)

// startDownload drives one task from pending/paused to a terminal state. It
// is the only goroutine that touches the task between the downloading
// transition and the terminal one, except for pause/delete firing the shared
// cancellation source.
func (m *Manager) startDownload(id string) {
	// Reclaim storage before taking more of it
	m.CleanupByAge()
	m.CleanupBySize()

	ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
	defer cancel()

	m.mu.Lock()
	if _, active := m.cancels[id]; active {
		// A driver is already attached to this task
		m.mu.Unlock()
		return
	}
	m.cancels[id] = cancel
	m.mu.Unlock()

	t, ok := m.store.Get(id)
	if !ok {
		m.clearIndices(id)
		return
	}

	m.store.Update(id, func(t *domain.Task) {
		t.Status = domain.StatusDownloading
		t.Progress = 0
		t.Speed = "0 B/s"
		t.Error = ""
	})
	m.notify(id)

	filePath, err := m.destinationPath(t)
	if err != nil {
		m.clearIndices(id)
		m.failTask(id, err.Error())
		return
	}
	m.store.Update(id, func(t *domain.Task) { t.FilePath = filePath })

	// The URL was validated at create; check again in case the field
	// mutated in between.
	if err := m.validateURL(t.DownloadURL); err != nil {
		m.clearIndices(id)
		m.failTask(id, err.Error())
		return
	}

	dl := downloader.New(t.DownloadURL, filePath, downloader.Options{
		Threads:  m.cfg.DownloadThreads,
		MaxBytes: config.MaxArtifactBytes,
		Client:   m.client,
		Logger:   m.log.With("downloader"),
		OnProgress: func(p downloader.Progress) {
			m.store.Update(id, func(t *domain.Task) {
				t.Speed = p.Speed
				if p.Total > 0 {
					pct := int(math.Round(float64(p.Downloaded) / float64(p.Total) * 100))
					if pct > 100 {
						pct = 100
					}
					t.Progress = pct
				}
			})
			m.notify(id)
		},
	})

	m.mu.Lock()
	m.downloaders[id] = dl
	m.mu.Unlock()

	err = dl.Download(ctx)

	m.clearIndices(id)

	if err != nil {
		m.handleDownloadError(id, dl, filePath, err)
		return
	}

	t, ok = m.store.Get(id)
	if !ok {
		// Deleted while the last bytes landed
		os.Remove(filePath)
		return
	}

	if len(t.Sinfs) > 0 && m.injector != nil {
		m.store.Update(id, func(t *domain.Task) {
			t.Status = domain.StatusInjecting
			t.Progress = 100
		})
		m.notify(id)

		// Indices are cleared by now: injection is not interruptible by
		// pause or the download timeout.
		if err := m.injector.Inject(context.Background(), filePath, t.Sinfs, t.Metadata); err != nil {
			m.log.Error("injection failed for task %s: %v", id, err)
			os.Remove(filePath)
			m.failTask(id, "Download failed")
			return
		}
	}

	if !m.store.Update(id, func(t *domain.Task) {
		t.Status = domain.StatusCompleted
		t.Progress = 100
		t.DownloadURL = ""
		t.Sinfs = []domain.Sinf{}
		t.Metadata = ""
		t.Error = ""
	}) {
		// Deleted during injection
		os.Remove(filePath)
		return
	}
	if err := m.store.Persist(); err != nil {
		m.log.Error("persisting after completion: %v", err)
	}
	m.notify(id)
	m.log.Info("task %s completed: %s", id, filepath.Base(filePath))
}

// destinationPath composes <packages>/<account>/<bundle>/<version>/<id>.ipa,
// re-sanitizing every segment and refusing any resolved directory that
// escapes the packages base.
func (m *Manager) destinationPath(t *domain.Task) (string, error) {
	account, err := validate.Segment(t.AccountHash, "account hash")
	if err != nil {
		return "", err
	}
	bundle, err := validate.Segment(t.Software.BundleID, "bundle ID")
	if err != nil {
		return "", err
	}
	ver, err := validate.Segment(t.Software.Version, "version")
	if err != nil {
		return "", err
	}

	base := m.store.PackagesDir()
	dir := filepath.Join(base, account, bundle, ver)

	resolved, err := filepath.Abs(dir)
	if err != nil {
		return "", domain.ErrInvalidPath
	}
	if !strings.HasPrefix(resolved, base+string(os.PathSeparator)) {
		return "", domain.ErrInvalidPath
	}

	if err := os.MkdirAll(resolved, 0755); err != nil {
		return "", fmt.Errorf("creating destination directory: %w", err)
	}

	return filepath.Join(resolved, t.ID+".ipa"), nil
}

// handleDownloadError classifies a failed Download call. An abort observed
// while the task was externally moved to paused is the pause path and makes
// no transition at all.
func (m *Manager) handleDownloadError(id string, dl *downloader.Downloader, filePath string, err error) {
	// Partial artifacts never survive a failed run
	dl.RemoveParts()
	os.Remove(filePath)

	if isAbort(err) {
		if t, ok := m.store.Get(id); ok && t.Status == domain.StatusPaused {
			m.log.Info("task %s paused", id)
			return
		}
		m.failTask(id, "Download timed out")
		return
	}

	m.log.Error("download failed for task %s: %v", id, err)
	m.failTask(id, "Download failed")
}

func (m *Manager) failTask(id, msg string) {
	if !m.store.Update(id, func(t *domain.Task) {
		t.Status = domain.StatusFailed
		t.Error = msg
		t.Speed = "0 B/s"
	}) {
		return
	}
	m.notify(id)
}

// clearIndices detaches the task from its cancellation source and
// downloader. The context itself is released by the driver's deferred
// cancel, which also disarms the timeout.
func (m *Manager) clearIndices(id string) {
	m.mu.Lock()
	delete(m.cancels, id)
	delete(m.downloaders, id)
	m.mu.Unlock()
}

func isAbort(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, domain.ErrAborted)
}
