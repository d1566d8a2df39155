package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("/api/display", "GET", "200"))
	RecordAPIRequest("/api/display", "GET", 200, 15*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("/api/display", "GET", "200"))
	assert.Equal(t, before+1, after)
}

func TestRecordTransition(t *testing.T) {
	okBefore := testutil.ToFloat64(TicketTransitions.WithLabelValues("call", "ok"))
	rejectedBefore := testutil.ToFloat64(TicketTransitions.WithLabelValues("call", "rejected"))

	RecordTransition("call", nil)
	RecordTransition("call", errors.New("invalid"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(TicketTransitions.WithLabelValues("call", "ok")))
	assert.Equal(t, rejectedBefore+1, testutil.ToFloat64(TicketTransitions.WithLabelValues("call", "rejected")))
}
