package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("paygate", reg)

	m.RecordRequest("/charges", "POST", 200, 12*time.Millisecond)
	m.RecordRequest("/charges", "POST", 200, 3*time.Millisecond)
	m.RecordThrottle(true)
	m.RecordThrottle(false)
	m.RecordThrottle(false)
	m.RecordInvocation("charges", "ok", 40*time.Millisecond)
	m.RecordSecretResolution("exchange-proxy", "denied")
	m.RecordLeakBlocked("exchange-proxy")
	m.RecordEgress("egress", false)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"requests", testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/charges", "POST", "200")), 2},
		{"allowed", testutil.ToFloat64(m.ThrottleDecisions.WithLabelValues("allowed")), 1},
		{"rejected", testutil.ToFloat64(m.ThrottleDecisions.WithLabelValues("rejected")), 2},
		{"invocations", testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("charges", "ok")), 1},
		{"secrets", testutil.ToFloat64(m.SecretResolutions.WithLabelValues("exchange-proxy", "denied")), 1},
		{"leaks", testutil.ToFloat64(m.LeaksBlocked.WithLabelValues("exchange-proxy")), 1},
		{"egress", testutil.ToFloat64(m.EgressDials.WithLabelValues("egress", "blocked")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	expected := `
# HELP paygate_throttle_decisions_total Total number of admission decisions
# TYPE paygate_throttle_decisions_total counter
paygate_throttle_decisions_total{result="allowed"} 1
paygate_throttle_decisions_total{result="rejected"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "paygate_throttle_decisions_total"); err != nil {
		t.Error(err)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// 每个注册表各自持有一组指标，重复创建不会冲突
	a := NewMetrics("paygate", prometheus.NewRegistry())
	b := NewMetrics("paygate", prometheus.NewRegistry())
	a.RecordLeakBlocked("charges")
	if got := testutil.ToFloat64(b.LeaksBlocked.WithLabelValues("charges")); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}
