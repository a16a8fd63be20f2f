package manager

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hexfall/ipavault/internal/domain"
)

// StartScheduler runs the age-based sweep once, then re-arms it for each
// local midnight. The wake time is recomputed absolutely every iteration so
// the schedule can't drift.
func (m *Manager) StartScheduler(ctx context.Context) {
	go func() {
		m.CleanupByAge()
		for {
			next := nextMidnight(time.Now())
			select {
			case <-time.After(time.Until(next)):
				m.CleanupByAge()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func nextMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
}

// CleanupByAge deletes completed tasks whose artifact is older than the
// configured retention window.
func (m *Manager) CleanupByAge() {
	days := m.cfg.AutoCleanupDays
	if days <= 0 {
		return
	}
	threshold := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	for _, t := range m.store.List() {
		if t.Status != domain.StatusCompleted {
			continue
		}
		fi, err := os.Stat(t.FilePath)
		if err != nil {
			continue
		}
		if fi.ModTime().Before(threshold) {
			m.log.Info("age cleanup: removing %s (%s, %s old)",
				t.ID, humanize.Bytes(uint64(fi.Size())), time.Since(fi.ModTime()).Round(time.Hour))
			if err := m.Delete(t.ID); err != nil {
				m.log.Warn("age cleanup: %v", err)
			}
		}
	}
}

// CleanupBySize trims completed artifacts, oldest first, until their total
// size fits the configured budget. Runs before each new download starts.
func (m *Manager) CleanupBySize() {
	maxMB := m.cfg.AutoCleanupMaxMB
	if maxMB <= 0 {
		return
	}
	budget := int64(maxMB) << 20

	type sized struct {
		id      string
		size    int64
		modTime time.Time
	}
	var files []sized
	var total int64
	for _, t := range m.store.List() {
		if t.Status != domain.StatusCompleted {
			continue
		}
		fi, err := os.Stat(t.FilePath)
		if err != nil {
			continue
		}
		files = append(files, sized{id: t.ID, size: fi.Size(), modTime: fi.ModTime()})
		total += fi.Size()
	}
	if total <= budget {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for _, f := range files {
		if total <= budget {
			break
		}
		m.log.Info("size cleanup: removing %s (%s), %s over budget",
			f.id, humanize.Bytes(uint64(f.size)), humanize.Bytes(uint64(total-budget)))
		if err := m.Delete(f.id); err != nil {
			m.log.Warn("size cleanup: %v", err)
			continue
		}
		total -= f.size
	}
}
