package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestPurgeMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPurgeMetricsWithRegistry(reg)

	m.ItemsEnqueued.Inc()
	m.ItemsEnqueued.Inc()
	m.InFlight.Set(3)
	m.ExpirePos.Set(4096)
	m.RecordRemoveOp(RemoveKindBacktrace, true)
	m.RecordRemoveOp(RemoveKindRange, false)

	families, err := reg.Gather()
	require.NoError(t, err)

	enq := findFamily(t, families, "coralfs_purge_items_enqueued_total")
	require.NotNil(t, enq)
	assert.Equal(t, float64(2), enq.GetMetric()[0].GetCounter().GetValue())

	inflight := findFamily(t, families, "coralfs_purge_in_flight")
	require.NotNil(t, inflight)
	assert.Equal(t, float64(3), inflight.GetMetric()[0].GetGauge().GetValue())

	expire := findFamily(t, families, "coralfs_purge_expire_pos")
	require.NotNil(t, expire)
	assert.Equal(t, float64(4096), expire.GetMetric()[0].GetGauge().GetValue())

	ops := findFamily(t, families, "coralfs_purge_remove_ops_total")
	require.NotNil(t, ops)
	assert.Len(t, ops.GetMetric(), 2)
}

func TestJournalMetricsRecordFlush(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJournalMetricsWithRegistry(reg)

	m.RecordFlush(0.01, true)
	m.RecordFlush(0.02, true)
	m.RecordFlush(0.5, false)

	families, err := reg.Gather()
	require.NoError(t, err)

	flushes := findFamily(t, families, "coralfs_journal_flushes_total")
	require.NotNil(t, flushes)

	var success, failure float64
	for _, metric := range flushes.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "status" {
				switch label.GetValue() {
				case StatusSuccess:
					success = metric.GetCounter().GetValue()
				case StatusFailure:
					failure = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(2), success)
	assert.Equal(t, float64(1), failure)

	hist := findFamily(t, families, "coralfs_journal_flush_latency_seconds")
	require.NotNil(t, hist)
	// Failed flushes do not contribute latency samples.
	assert.Equal(t, uint64(2), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestObjectStoreMetricsBytes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordPut(0.05, true, 1024)
	m.RecordGet(0.02, true, 512)
	m.RecordDelete(0.01, true)
	m.RecordDelete(0.01, false)

	families, err := reg.Gather()
	require.NoError(t, err)

	bytes := findFamily(t, families, "coralfs_objectstore_bytes_total")
	require.NotNil(t, bytes)

	var read, written float64
	for _, metric := range bytes.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "direction" {
				switch label.GetValue() {
				case DirectionRead:
					read = metric.GetCounter().GetValue()
				case DirectionWrite:
					written = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(512), read)
	assert.Equal(t, float64(1024), written)
}
