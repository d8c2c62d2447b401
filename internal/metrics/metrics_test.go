package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名のメトリクスファミリーを返す。見つからなければテストを失敗させる。
func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスから指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordLogin_LabelsByMethodAndResult はログイン結果がラベル別に集計されることを検証する。
func TestRecordLogin_LabelsByMethodAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin("session", LoginSuccess)
	c.RecordLogin("session", LoginSuccess)
	c.RecordLogin("token", LoginInvalidCredentials)

	mf := findMetric(t, reg, "contactbook_login_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 series, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		method, result := labelValue(m, "method"), labelValue(m, "result")
		want := 1.0
		if method == "session" && result == LoginSuccess {
			want = 2
		}
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("login_total{method=%s,result=%s} = %v, want %v", method, result, got, want)
		}
	}
}

// TestRecordAuthRejected_IncrementsCounter は認証拒否カウンタが増加することを検証する。
func TestRecordAuthRejected_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthRejected("token")

	mf := findMetric(t, reg, "contactbook_auth_rejected_total")
	m := mf.GetMetric()[0]
	if labelValue(m, "provider") != "token" || m.GetCounter().GetValue() != 1 {
		t.Errorf("unexpected metric: %v", m)
	}
}

// TestRecordRateLimited_IncrementsCounter はレート制限カウンタが制限種別ごとに増加することを検証する。
func TestRecordRateLimited_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRateLimited("general")
	c.RecordRateLimited("me")
	c.RecordRateLimited("me")

	mf := findMetric(t, reg, "contactbook_rate_limited_total")
	for _, m := range mf.GetMetric() {
		want := 1.0
		if labelValue(m, "limit") == "me" {
			want = 2
		}
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("rate_limited_total{limit=%s} = %v, want %v", labelValue(m, "limit"), got, want)
		}
	}
}

// TestRecordRoleChange_IncrementsCounter はロール変更カウンタが増加することを検証する。
func TestRecordRoleChange_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRoleChange("admin")

	mf := findMetric(t, reg, "contactbook_role_changes_total")
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("role_changes_total = %v, want 1", got)
	}
}

// TestRecordHTTPStatus_IncrementsCounter はステータスコード別カウンタが増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(429)

	mf := findMetric(t, reg, "contactbook_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 status codes, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		want := 1.0
		if labelValue(m, "status_code") == "200" {
			want = 2
		}
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("http_status_total{status_code=%s} = %v, want %v", labelValue(m, "status_code"), got, want)
		}
	}
}

// TestRecordRequestLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordRequestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(150 * time.Millisecond)

	mf := findMetric(t, reg, "contactbook_request_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() < 0.149 || h.GetSampleSum() > 0.151 {
		t.Errorf("sample sum = %v, want ~0.15", h.GetSampleSum())
	}
}

// TestNewCollector_DuplicateRegistrationPanics は同一レジストリへの二重登録でpanicすることを検証する。
func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	_ = NewCollector(reg)
}
