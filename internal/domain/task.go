package domain

import "time"

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusInjecting   Status = "injecting" // appending signature/metadata into the archive
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether a status can only be left via delete.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Software identifies the app a task downloads. BundleID and Version also
// become on-disk path segments, so both pass through validate.Segment.
type Software struct {
	Name          string `json:"name"`
	BundleID      string `json:"bundleID"`
	Version       string `json:"version"`
	FileSizeBytes int64  `json:"fileSizeBytes,omitempty"`
}

// Sinf is an opaque signature blob paired with a manifest entry by index.
type Sinf struct {
	ID   int    `json:"id"`
	Data string `json:"sinf"` // base64
}

// Task is the unit the manager owns. Mutated only by the manager, or by the
// downloader through the manager's progress callback (progress/speed only).
type Task struct {
	ID          string    `json:"id"`
	Software    Software  `json:"software"`
	AccountHash string    `json:"accountHash"`
	DownloadURL string    `json:"downloadURL"` // cleared on completion
	Sinfs       []Sinf    `json:"sinfs"`       // emptied after injection
	Metadata    string    `json:"iTunesMetadata,omitempty"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	Speed       string    `json:"speed"`
	FilePath    string    `json:"filePath"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Clone returns a deep copy so callers never hold a pointer into the store.
func (t *Task) Clone() *Task {
	c := *t
	c.Sinfs = make([]Sinf, len(t.Sinfs))
	copy(c.Sinfs, t.Sinfs)
	return &c
}

// TaskView is the public projection of a Task: no URL, no signature
// material, no filesystem paths.
type TaskView struct {
	ID          string   `json:"id"`
	Software    Software `json:"software"`
	AccountHash string   `json:"accountHash"`
	Status      Status   `json:"status"`
	Progress    int      `json:"progress"`
	Speed       string   `json:"speed"`
	Error       string   `json:"error,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	HasFile     bool     `json:"hasFile"`
	Latest      bool     `json:"latest,omitempty"`
}

// View projects a task for API responses. hasFile reflects the on-disk state
// at call time, so the caller supplies it.
func (t *Task) View(hasFile bool) *TaskView {
	return &TaskView{
		ID:          t.ID,
		Software:    t.Software,
		AccountHash: t.AccountHash,
		Status:      t.Status,
		Progress:    t.Progress,
		Speed:       t.Speed,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
		HasFile:     hasFile,
	}
}
