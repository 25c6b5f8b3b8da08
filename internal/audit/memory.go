package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/paysync/internal/models"
	"github.com/nikhilbhutani/paysync/internal/tenant"
)

// Memory keeps entries in process, for tests.
type Memory struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(ctx context.Context, scope tenant.Scope, entry Entry) error {
	if err := scope.Check(); err != nil {
		return err
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, models.AuditLog{
		ID:           uuid.New(),
		TenantID:     scope.TenantID(),
		Actor:        tenant.ActorFromContext(ctx),
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      details,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

// Entries returns the scope's entries, oldest first.
func (m *Memory) Entries(scope tenant.Scope) []models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for _, l := range m.logs {
		if l.TenantID == scope.TenantID() {
			out = append(out, l)
		}
	}
	return out
}

func (m *Memory) List(_ context.Context, scope tenant.Scope, q Query) ([]models.AuditLog, error) {
	if err := scope.Check(); err != nil {
		return nil, err
	}
	q = q.normalize()

	var matched []models.AuditLog
	for _, l := range m.Entries(scope) {
		if q.Action == "" || l.Action == q.Action {
			matched = append(matched, l)
		}
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}
