package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSyncRunPayloadWireFormat(t *testing.T) {
	data, err := json.Marshal(SyncRunPayload{JobID: "j", TenantID: "t", Provider: "stripe", Attempt: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"j","tenant_id":"t","provider":"stripe","attempt":2}`, string(data))
}

func TestNewSyncScheduleTask(t *testing.T) {
	task, err := NewSyncScheduleTask()
	require.NoError(t, err)
	assert.Equal(t, TypeSyncSchedule, task.Type())
}

func TestHandlersRegistry(t *testing.T) {
	r := NewHandlersRegistry(zap.NewNop())
	assert.NotNil(t, r.Mux())
}
