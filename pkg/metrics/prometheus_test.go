package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordPoll("latest", "success")
	r.RecordPoll("latest", "success")
	r.RecordRows("inserted", 5)
	r.RecordRows("inserted", 0)
	r.RecordAlerts("crypto", 2)
	r.SetProcessing(1)
	r.SetProcessing(1)
	r.SetProcessing(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.polls.WithLabelValues("latest", "success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.rows.WithLabelValues("inserted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.alerts.WithLabelValues("crypto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.processing))
}
