package stats

import (
	"sync"
	"testing"
	"time"
)

func newTestAggregator(t *testing.T, onData func(Snapshot)) *Aggregator {
	t.Helper()
	a, err := New(Config{Interval: 20 * time.Millisecond, OnData: onData})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func TestNewRejectsBadInterval(t *testing.T) {
	if _, err := New(Config{Interval: 0}); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := New(Config{Interval: -time.Second}); err == nil {
		t.Error("expected error for negative interval")
	}
}

func TestBucketResponseTime(t *testing.T) {
	cases := []struct {
		ms   int64
		want int64
	}{
		{0, 0},
		{1, 1},
		{47, 47},
		{99, 99},
		{100, 100},
		{147, 140},
		{999, 990},
		{1000, 1000},
		{1099, 1000},
		{1100, 1100},
		{9999, 9900},
		{12345, 12300},
	}
	for _, tc := range cases {
		if got := bucketResponseTime(tc.ms); got != tc.want {
			t.Errorf("bucketResponseTime(%d) = %d, want %d", tc.ms, got, tc.want)
		}
	}
}

func TestReportAccounting(t *testing.T) {
	a := newTestAggregator(t, nil)

	a.ReportSuccess("GET", "/users", 42, 512)
	a.ReportSuccess("GET", "/users", 158, 256)
	a.ReportFailure("GET", "/users", 30, "boom")

	snap := a.Collect()
	entries := snap["stats"].([]map[string]interface{})
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["name"] != "/users" || e["method"] != "GET" {
		t.Errorf("entry identity = %v/%v", e["method"], e["name"])
	}
	if got := e["num_requests"].(int64); got != 3 {
		t.Errorf("num_requests = %d, want 3", got)
	}
	if got := e["num_failures"].(int64); got != 1 {
		t.Errorf("num_failures = %d, want 1", got)
	}
	if got := e["total_response_time"].(int64); got != 230 {
		t.Errorf("total_response_time = %d, want 230", got)
	}
	if got := e["min_response_time"].(int64); got != 30 {
		t.Errorf("min_response_time = %d, want 30", got)
	}
	if got := e["max_response_time"].(int64); got != 158 {
		t.Errorf("max_response_time = %d, want 158", got)
	}
	if got := e["total_content_length"].(int64); got != 768 {
		t.Errorf("total_content_length = %d, want 768", got)
	}

	buckets := e["response_times"].(map[int64]int64)
	if buckets[42] != 1 || buckets[150] != 1 || buckets[30] != 1 {
		t.Errorf("response_times = %v", buckets)
	}

	total := snap["stats_total"].(map[string]interface{})
	if got := total["num_requests"].(int64); got != 3 {
		t.Errorf("total num_requests = %d, want 3", got)
	}
	if total["name"] != "Total" {
		t.Errorf("total name = %v", total["name"])
	}
}

func TestErrorsKeyedByMethodNameError(t *testing.T) {
	a := newTestAggregator(t, nil)

	a.ReportFailure("GET", "/a", 1, "timeout")
	a.ReportFailure("GET", "/a", 2, "timeout")
	a.ReportFailure("POST", "/a", 3, "timeout")

	snap := a.Collect()
	errs := snap["errors"].(map[string]map[string]interface{})
	if len(errs) != 2 {
		t.Fatalf("got %d error records, want 2", len(errs))
	}
	rec, ok := errs["GET|/a|timeout"]
	if !ok {
		t.Fatalf("missing GET|/a|timeout key, have %v", errs)
	}
	if rec["count"].(int64) != 2 {
		t.Errorf("count = %v, want 2", rec["count"])
	}
	if rec["method"] != "GET" || rec["name"] != "/a" || rec["error"] != "timeout" {
		t.Errorf("record = %v", rec)
	}
}

func TestIntervalCountersResetLifetimePersists(t *testing.T) {
	a := newTestAggregator(t, nil)

	a.ReportSuccess("GET", "/a", 10, 0)
	first := a.Collect()
	entry := first["stats"].([]map[string]interface{})[0]
	if got := len(entry["num_reqs_per_sec"].(map[int64]int64)); got != 1 {
		t.Fatalf("first flush num_reqs_per_sec has %d seconds, want 1", got)
	}

	second := a.Collect()
	entry = second["stats"].([]map[string]interface{})[0]
	if got := len(entry["num_reqs_per_sec"].(map[int64]int64)); got != 0 {
		t.Errorf("second flush num_reqs_per_sec has %d seconds, want 0", got)
	}
	if got := entry["num_requests"].(int64); got != 1 {
		t.Errorf("lifetime num_requests = %d, want 1", got)
	}
}

func TestClearAll(t *testing.T) {
	a := newTestAggregator(t, nil)

	a.ReportSuccess("GET", "/a", 10, 0)
	a.ReportFailure("GET", "/a", 10, "x")
	a.ClearAll()

	snap := a.Collect()
	if got := len(snap["stats"].([]map[string]interface{})); got != 0 {
		t.Errorf("got %d entries after ClearAll, want 0", got)
	}
	if got := len(snap["errors"].(map[string]map[string]interface{})); got != 0 {
		t.Errorf("got %d error records after ClearAll, want 0", got)
	}
	total := snap["stats_total"].(map[string]interface{})
	if got := total["num_requests"].(int64); got != 0 {
		t.Errorf("total num_requests = %d after ClearAll, want 0", got)
	}
}

func TestFlushTickerInvokesOnData(t *testing.T) {
	var mu sync.Mutex
	var snaps []Snapshot
	a := newTestAggregator(t, func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	a.ReportSuccess("GET", "/a", 5, 0)
	a.Start()
	defer a.Stop()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(snaps)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d snapshots after 2s", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	entry := snaps[0]["stats"].([]map[string]interface{})[0]
	if got := entry["num_requests"].(int64); got != 1 {
		t.Errorf("flushed num_requests = %d, want 1", got)
	}
}

func TestStopIdempotent(t *testing.T) {
	a := newTestAggregator(t, nil)
	a.Start()
	a.Stop()
	a.Stop()
}

func TestStopBeforeStart(t *testing.T) {
	a := newTestAggregator(t, nil)
	a.Stop()
}

func TestConcurrentReports(t *testing.T) {
	a := newTestAggregator(t, nil)

	const workers = 8
	const perWorker = 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				a.ReportSuccess("GET", "/a", int64(j%200), 1)
			}
		}()
	}
	wg.Wait()

	snap := a.Collect()
	total := snap["stats_total"].(map[string]interface{})
	if got := total["num_requests"].(int64); got != workers*perWorker {
		t.Errorf("num_requests = %d, want %d", got, workers*perWorker)
	}
}

func TestRecorderDelegates(t *testing.T) {
	a := newTestAggregator(t, nil)
	rec := a.Recorder()

	rec.RecordSuccess("GET", "/a", 10, 100)
	rec.RecordFailure("GET", "/a", 20, "nope")

	snap := a.Collect()
	total := snap["stats_total"].(map[string]interface{})
	if got := total["num_requests"].(int64); got != 2 {
		t.Errorf("num_requests = %d, want 2", got)
	}
	if got := total["num_failures"].(int64); got != 1 {
		t.Errorf("num_failures = %d, want 1", got)
	}
}
