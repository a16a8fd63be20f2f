package app

import (
	"net/http"
	"time"

	"github.com/hexfall/ipavault/internal/domain"
	"github.com/hexfall/ipavault/internal/infra/config"
	"github.com/hexfall/ipavault/internal/infra/logger"
	"github.com/hexfall/ipavault/internal/manager"
)

// Manager is the download lifecycle surface the API layer drives. Declared
// here so controllers don't import the concrete implementation.
type Manager interface {
	Create(software domain.Software, accountHash, downloadURL string, sinfs []domain.Sinf, metadataB64 string) (*domain.Task, error)
	Get(id string) (*domain.TaskView, error)
	List(accountHashes []string) []*domain.TaskView
	Pause(id string) error
	Resume(id string) error
	Delete(id string) error
	Subscribe(id string) (*manager.Subscription, error)
	Unsubscribe(id, key string)
}

// Context holds the core environment and shared resources. It acts as the
// single source of truth for the application state.
type Context struct {
	Config  *config.Config
	Logger  *logger.Logger
	Manager Manager

	// ValidateURL gates origin URLs in the create handler, before the size
	// pre-flight. The manager validates with its own function
	// (manager.Options.ValidateURL), not with this one.
	ValidateURL func(string) error

	// HTTPClient performs the size pre-flight probes.
	HTTPClient *http.Client

	StartTime time.Time
}

func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config:     cfg,
		Logger:     log,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		StartTime:  time.Now(),
	}
}
