package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSessionMetrics_IncPendingCalls(t *testing.T) {
	before := testutil.ToFloat64(PendingCalls)

	var m SessionMetrics
	m.IncPendingCalls(1)
	m.IncPendingCalls(1)
	m.IncPendingCalls(-1)

	assert.Equal(t, before+1, testutil.ToFloat64(PendingCalls))
}

func TestSchedulerMetrics_IncJobsFired(t *testing.T) {
	before := testutil.ToFloat64(SchedulerJobsFired.WithLabelValues("Jio_BP"))

	var m SchedulerMetrics
	m.IncJobsFired("Jio_BP")

	assert.Equal(t, before+1, testutil.ToFloat64(SchedulerJobsFired.WithLabelValues("Jio_BP")))
}

func TestRegisterMetrics_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, RegisterMetrics)
}
