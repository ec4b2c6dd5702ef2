package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInstancesDoNotCollide(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := New(reg)
	b := Discard()

	a.MessagesSent.WithLabelValues("ok").Inc()
	b.MessagesSent.WithLabelValues("ok").Add(3)

	require.Equal(t, float64(1), testutil.ToFloat64(a.MessagesSent.WithLabelValues("ok")))
	require.Equal(t, float64(3), testutil.ToFloat64(b.MessagesSent.WithLabelValues("ok")))

	require.Panics(t, func() { New(reg) })
}
