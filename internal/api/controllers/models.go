package controllers

import "github.com/hexfall/ipavault/internal/domain"

// CreateDownloadRequest is the POST /api/downloads body.
type CreateDownloadRequest struct {
	Software       domain.Software `json:"software"`
	AccountHash    string          `json:"accountHash"`
	DownloadURL    string          `json:"downloadURL"`
	Sinfs          []domain.Sinf   `json:"sinfs"`
	ITunesMetadata string          `json:"iTunesMetadata"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SettingsResponse struct {
	MaxDownloadMB    int    `json:"maxDownloadMB"`
	DownloadThreads  int    `json:"downloadThreads"`
	AutoCleanupDays  int    `json:"autoCleanupDays"`
	AutoCleanupMaxMB int    `json:"autoCleanupMaxMB"`
	UptimeSeconds    int64  `json:"uptimeSeconds"`
	BuildCommit      string `json:"buildCommit"`
	BuildDate        string `json:"buildDate"`
}

type AuthStatusResponse struct {
	PasswordRequired bool `json:"passwordRequired"`
}

type AuthVerifyRequest struct {
	Token string `json:"token"`
}

type AuthVerifyResponse struct {
	Valid bool `json:"valid"`
}
