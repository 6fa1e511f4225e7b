package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGaugesReportLatestValue(t *testing.T) {
	m := New()
	m.SetPendingTasks(3)
	m.SetActiveWorkers(2)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	require.Contains(t, body, `distask_orchestrator_pending_tasks 3`)
	require.Contains(t, body, `distask_orchestrator_active_workers 2`)
}

func TestObserveTerminalIncrementsByStatus(t *testing.T) {
	m := New()
	m.ObserveTerminal("COMPLETED")
	m.ObserveTerminal("COMPLETED")
	m.ObserveTerminal("FAILED")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	require.True(t, strings.Contains(body, `distask_orchestrator_tasks_total{status="COMPLETED"} 2`))
	require.True(t, strings.Contains(body, `distask_orchestrator_tasks_total{status="FAILED"} 1`))
}
