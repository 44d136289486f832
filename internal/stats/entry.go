package stats

import (
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Entry accumulates statistics for one (method, name) endpoint.
//
// Lifetime counters persist until ClearAll; NumReqsPerSec is interval-scoped
// and reset on every flush. The hdr histogram backs the percentile line logged
// at flush time and is not part of the wire snapshot.
type Entry struct {
	Name               string
	Method             string
	NumRequests        int64
	NumFailures        int64
	TotalResponseTime  int64
	MinResponseTime    int64
	MaxResponseTime    int64
	TotalContentLength int64
	ResponseTimes      map[int64]int64
	NumReqsPerSec      map[int64]int64

	sumSquares float64
	hist       *hdrhistogram.Histogram
}

func newEntry(method, name string) *Entry {
	return &Entry{
		Name:          name,
		Method:        method,
		ResponseTimes: make(map[int64]int64),
		NumReqsPerSec: make(map[int64]int64),
		// 1ms to 10min, 3 significant figures.
		hist: hdrhistogram.New(1, int64(10*time.Minute/time.Millisecond), 3),
	}
}

func (e *Entry) log(responseTime, contentLength int64, now time.Time) {
	e.NumRequests++
	e.TotalResponseTime += responseTime
	e.TotalContentLength += contentLength
	e.sumSquares += float64(responseTime) * float64(responseTime)

	if e.MinResponseTime == 0 || responseTime < e.MinResponseTime {
		e.MinResponseTime = responseTime
	}
	if responseTime > e.MaxResponseTime {
		e.MaxResponseTime = responseTime
	}

	e.ResponseTimes[bucketResponseTime(responseTime)]++
	e.NumReqsPerSec[now.Unix()]++

	v := responseTime
	if v < e.hist.LowestTrackableValue() {
		v = e.hist.LowestTrackableValue()
	}
	if v > e.hist.HighestTrackableValue() {
		v = e.hist.HighestTrackableValue()
	}
	_ = e.hist.RecordValue(v)
}

func (e *Entry) logFailure() {
	e.NumFailures++
}

// serialize renders the wire shape of the entry.
func (e *Entry) serialize() map[string]interface{} {
	responseTimes := make(map[int64]int64, len(e.ResponseTimes))
	for k, v := range e.ResponseTimes {
		responseTimes[k] = v
	}
	reqsPerSec := make(map[int64]int64, len(e.NumReqsPerSec))
	for k, v := range e.NumReqsPerSec {
		reqsPerSec[k] = v
	}
	return map[string]interface{}{
		"name":                 e.Name,
		"method":               e.Method,
		"num_requests":         e.NumRequests,
		"num_failures":         e.NumFailures,
		"total_response_time":  e.TotalResponseTime,
		"min_response_time":    e.MinResponseTime,
		"max_response_time":    e.MaxResponseTime,
		"total_content_length": e.TotalContentLength,
		"response_times":       responseTimes,
		"num_reqs_per_sec":     reqsPerSec,
	}
}

// resetInterval clears the counters scoped to one flush interval.
func (e *Entry) resetInterval() {
	e.NumReqsPerSec = make(map[int64]int64)
}

// mean and stddev feed the flush-time percentile log line.
func (e *Entry) mean() float64 {
	if e.NumRequests == 0 {
		return 0
	}
	return float64(e.TotalResponseTime) / float64(e.NumRequests)
}

func (e *Entry) stddev() float64 {
	if e.NumRequests == 0 {
		return 0
	}
	m := e.mean()
	variance := e.sumSquares/float64(e.NumRequests) - m*m
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// bucketResponseTime coarsens a response time in milliseconds: values under
// 100 keep their exact integer value, 100-999 floor to the nearest 10ms and
// anything above floors to the nearest 100ms.
func bucketResponseTime(ms int64) int64 {
	switch {
	case ms < 100:
		return ms
	case ms < 1000:
		return ms / 10 * 10
	default:
		return ms / 100 * 100
	}
}
