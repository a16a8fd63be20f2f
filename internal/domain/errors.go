package domain

import "errors"

// ErrAborted indicates the task's cancellation source fired (pause, delete
// or the global timeout).
var ErrAborted = errors.New("download aborted")

// ErrSizeLimit indicates the artifact exceeds the configured size cap.
var ErrSizeLimit = errors.New("file exceeds maximum allowed size")

// ErrInvalidPath indicates a resolved destination escaped the packages base.
var ErrInvalidPath = errors.New("Invalid path")

// ErrTaskNotFound indicates an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// ErrNotDownloading is returned by pause when the task isn't active.
var ErrNotDownloading = errors.New("task is not downloading")

// ErrNotPaused is returned by resume when the task isn't paused.
var ErrNotPaused = errors.New("task is not paused")
