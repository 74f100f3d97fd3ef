package jobs

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterVecValue(vec *prometheus.CounterVec, labels ...string) float64 {
	metric, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return -1
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func getHistogramVecSampleCount(vec *prometheus.HistogramVec, labels ...string) uint64 {
	observer, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	metric, ok := observer.(prometheus.Metric)
	if !ok {
		return 0
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetrics_Register(t *testing.T) {
	t.Run("gathers all families", func(t *testing.T) {
		m := NewMetrics()
		reg := prometheus.NewRegistry()
		if err := m.Register(reg); err != nil {
			t.Fatalf("Register() returned error: %v", err)
		}

		m.IncJobsTotal(JobTypeABAnalysis, StatusSuccess)
		m.ObserveJobDuration(JobTypeABAnalysis, 1.0)
		m.IncJobErrors(JobTypeABAnalysis, ErrorTypeTimeout)

		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("Gather() returned error: %v", err)
		}
		expected := map[string]bool{
			MetricBackgroundJobsTotal:      false,
			MetricBackgroundJobsDuration:   false,
			MetricBackgroundJobErrorsTotal: false,
		}
		for _, family := range families {
			if _, ok := expected[family.GetName()]; ok {
				expected[family.GetName()] = true
			}
		}
		for name, found := range expected {
			if !found {
				t.Errorf("metric %s not found in gathered metrics", name)
			}
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if err := NewMetrics().Register(reg); err != nil {
			t.Fatalf("first Register() returned error: %v", err)
		}
		if err := NewMetrics().Register(reg); err == nil {
			t.Error("second Register() should have returned an error")
		}
	})
}

func TestMetrics_PerJobType(t *testing.T) {
	m := NewMetrics()
	jobTypes := []string{JobTypeABAnalysis, JobTypeDriftDetection, JobTypeCachePurge}

	for i, jt := range jobTypes {
		for n := 0; n <= i; n++ {
			m.IncJobsTotal(jt, StatusSuccess)
			m.ObserveJobDuration(jt, 0.5)
		}
		m.IncJobErrors(jt, ErrorTypeTask)
	}

	for i, jt := range jobTypes {
		if got := getCounterVecValue(m.jobsTotal, jt, StatusSuccess); got != float64(i+1) {
			t.Errorf("jobsTotal{%s} = %v, want %d", jt, got, i+1)
		}
		if got := getHistogramVecSampleCount(m.jobsDuration, jt); got != uint64(i+1) {
			t.Errorf("jobsDuration{%s} count = %d, want %d", jt, got, i+1)
		}
		if got := getCounterVecValue(m.jobErrors, jt, ErrorTypeTask); got != 1 {
			t.Errorf("jobErrors{%s} = %v, want 1", jt, got)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.IncJobsTotal(JobTypeCachePurge, StatusSuccess)
	m.ObserveJobDuration(JobTypeCachePurge, 1)
	m.IncJobErrors(JobTypeCachePurge, ErrorTypeTask)
}

func TestMetrics_Concurrency(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncJobsTotal(JobTypeDriftDetection, StatusFailure)
				m.ObserveJobDuration(JobTypeDriftDetection, 1.5)
			}
		}()
	}
	wg.Wait()

	if got := getCounterVecValue(m.jobsTotal, JobTypeDriftDetection, StatusFailure); got != 1000 {
		t.Errorf("failure count = %v, want 1000", got)
	}
	if got := getHistogramVecSampleCount(m.jobsDuration, JobTypeDriftDetection); got != 1000 {
		t.Errorf("duration samples = %d, want 1000", got)
	}
}
