package queue

const (
	TypeSyncRun      = "sync:run"
	TypeSyncSchedule = "sync:schedule"
)

type SyncRunPayload struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
	Provider string `json:"provider"`
	Attempt  int    `json:"attempt"`
}

type SyncSchedulePayload struct{}
