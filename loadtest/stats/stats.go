// Package stats aggregates client-side measurements from a load test run
// (connect latency, message fan-out latency, errors) and prints a summary
// report, optionally joined with server-side Prometheus deltas.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector gathers measurements from many client goroutines. All methods
// are goroutine-safe.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	msgLatencies     []time.Duration
	sends            int
	errors           int
	connections      int
	startTime        time.Time
	scraper          *Scraper
}

// NewCollector creates a Collector; elapsed time in the report is measured
// from this call.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetScraper attaches a server metrics scraper whose deltas are appended to
// the report.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddConnect records an established connection and its dial latency.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddSend counts a chat message handed to the server.
func (c *Collector) AddSend() {
	c.mu.Lock()
	c.sends++
	c.mu.Unlock()
}

// AddMsgLatency records the delay between a send and the room fan-out
// arriving at the partner client.
func (c *Collector) AddMsgLatency(d time.Duration) {
	c.mu.Lock()
	c.msgLatencies = append(c.msgLatencies, d)
	c.mu.Unlock()
}

// AddError counts a failed connection or scenario step.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns how many connections have been recorded so far.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns how many errors have been recorded so far.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// latencySummary holds the percentile breakdown of one latency series.
type latencySummary struct {
	avg, p50, p95, p99, max time.Duration
	n                       int
}

// summarize sorts the series and extracts the percentile points.
func summarize(durations []time.Duration) latencySummary {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return latencySummary{
		avg: sum / time.Duration(n),
		p50: durations[n/2],
		p95: durations[int(math.Ceil(float64(n)*0.95))-1],
		p99: durations[int(math.Ceil(float64(n)*0.99))-1],
		max: durations[n-1],
		n:   n,
	}
}

func (s latencySummary) print() {
	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		s.avg.Round(time.Microsecond),
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
		s.max.Round(time.Microsecond),
		s.n,
	)
}

// Report prints the run summary: totals, throughput, percentile breakdowns
// for connect and fan-out latency, and the server metrics when a scraper is
// attached.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:      %s\n", elapsed.Round(time.Second))
	fmt.Printf("Connections:   %d\n", c.connections)
	fmt.Printf("Messages sent: %d\n", c.sends)
	fmt.Printf("Errors:        %d\n", c.errors)

	if c.connections > 0 {
		errorRate := float64(c.errors) / float64(c.connections) * 100
		fmt.Printf("Error rate:    %.2f%%\n", errorRate)
	}
	if c.sends > 0 && elapsed > 0 {
		fmt.Printf("Send rate:     %.1f msg/s\n", float64(c.sends)/elapsed.Seconds())
	}

	if len(c.connectLatencies) > 0 {
		fmt.Println("\n--- Connect Latency ---")
		summarize(c.connectLatencies).print()
	}

	if len(c.msgLatencies) > 0 {
		fmt.Println("\n--- Message Fan-out Latency ---")
		summarize(c.msgLatencies).print()
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}
