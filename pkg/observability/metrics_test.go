package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.SandboxRun("javascript", "ok", 20*time.Millisecond)
	m.SandboxRun("javascript", "timeout", time.Second)
	m.Reconciled("node", "create", 3)
	m.Reconciled("edge", "delete", 0)
	m.ReconcileWarnings(2)
	m.PatchTransition("ACCEPTED")
	m.LockAcquired()
	m.LockAcquired()
	m.LockReleased()
	m.AgentTurn("proposed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sandboxRuns.WithLabelValues("javascript", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reconcileOps.WithLabelValues("node", "create")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.reconcileOps), "zero-count writes are not recorded")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcileWarnings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.locksHeld))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.agentTurns.WithLabelValues("proposed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SandboxRun("lua", "ok", time.Millisecond)
		m.Reconciled("node", "create", 1)
		m.ReconcileWarnings(1)
		m.PatchTransition("REJECTED")
		m.LockAcquired()
		m.LockReleased()
		m.AgentTurn("failed")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.PatchTransition("PROPOSED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `easel_patch_transitions_total{state="PROPOSED"} 1`)
}
