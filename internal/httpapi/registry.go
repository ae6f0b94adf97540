// File: internal/httpapi/registry.go
package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/repair"
)

// Run statuses reported by the API.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunEntry is the tracked state of a single repair run.
type RunEntry struct {
	ID          string             `json:"run_id"`
	Status      string             `json:"status"`
	Request     schemas.RunRequest `json:"request"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Result      *repair.Result     `json:"-"`
	Error       string             `json:"error,omitempty"`
}

// Registry tracks active and recent runs thread-safely in memory.
type Registry struct {
	runs map[string]*RunEntry
	mu   sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*RunEntry)}
}

// Create registers a new run in the running state and returns its ID.
func (r *Registry) Create(req schemas.RunRequest) *RunEntry {
	entry := &RunEntry{
		ID:        uuid.NewString()[:8],
		Status:    StatusRunning,
		Request:   req,
		StartedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.runs[entry.ID] = entry
	r.mu.Unlock()
	return entry
}

// Get returns a snapshot of the entry so callers never race with updates.
func (r *Registry) Get(id string) (RunEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.runs[id]
	if !ok {
		return RunEntry{}, false
	}
	return *entry, true
}

// Complete marks a run as finished with its result.
func (r *Registry) Complete(id string, res *repair.Result) {
	r.finish(id, StatusCompleted, res, "")
}

// Fail marks a run as failed. A partial result may still be attached.
func (r *Registry) Fail(id string, res *repair.Result, errMsg string) {
	r.finish(id, StatusFailed, res, errMsg)
}

func (r *Registry) finish(id, status string, res *repair.Result, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[id]
	if !ok {
		return
	}
	// Terminal states never regress.
	if entry.Status != StatusRunning {
		return
	}
	entry.Status = status
	entry.Result = res
	entry.Error = errMsg
	now := time.Now().UTC()
	entry.CompletedAt = &now
}
