// Package loadstats aggregates client-side measurements from a handoff load
// test and prints a summary with percentile distributions, optionally
// alongside server-side counters scraped from /metrics.
package loadstats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates measurements from many load test workers. All methods
// are goroutine-safe.
type Collector struct {
	mu              sync.Mutex
	createLatencies []time.Duration
	fetchLatencies  []time.Duration
	handoffs        int
	errors          int
	rateLimited     int
	violations      int // a consumed session was readable again
	startTime       time.Time
	scraper         *Scraper
	events          *EventTally
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetScraper attaches a metrics scraper whose results are included in Report.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// SetEvents attaches a NATS event tally whose comparison is included in
// Report.
func (c *Collector) SetEvents(t *EventTally) {
	c.mu.Lock()
	c.events = t
	c.mu.Unlock()
}

// AddCreate records the latency of a successful POST /session.
func (c *Collector) AddCreate(d time.Duration) {
	c.mu.Lock()
	c.createLatencies = append(c.createLatencies, d)
	c.mu.Unlock()
}

// AddFetch records the latency of a successful GET /session/{sid} and counts
// one completed handoff.
func (c *Collector) AddFetch(d time.Duration) {
	c.mu.Lock()
	c.fetchLatencies = append(c.fetchLatencies, d)
	c.handoffs++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// AddRateLimited counts a create rejected with 429.
func (c *Collector) AddRateLimited() {
	c.mu.Lock()
	c.rateLimited++
	c.mu.Unlock()
}

// AddViolation records a single-use session that was served twice.
func (c *Collector) AddViolation() {
	c.mu.Lock()
	c.violations++
	c.mu.Unlock()
}

// Counts returns completed handoffs, errors and single-use violations.
func (c *Collector) Counts() (handoffs, errors, violations int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handoffs, c.errors, c.violations
}

// RateLimited returns the number of creates rejected with 429.
func (c *Collector) RateLimited() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimited
}

// Report writes a formatted summary of the collected measurements to w.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(w, "Handoffs:     %d\n", c.handoffs)
	fmt.Fprintf(w, "Errors:       %d\n", c.errors)
	fmt.Fprintf(w, "Rate limited: %d\n", c.rateLimited)
	fmt.Fprintf(w, "Violations:   %d\n", c.violations)

	if total := c.handoffs + c.errors; total > 0 {
		fmt.Fprintf(w, "Error rate:   %.2f%%\n", float64(c.errors)/float64(total)*100)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(w, "Throughput:   %.1f handoffs/s\n", float64(c.handoffs)/secs)
	}

	if len(c.createLatencies) > 0 {
		fmt.Fprintln(w, "\n--- Create Latency ---")
		fmt.Fprintln(w, "  "+Summarize(c.createLatencies).String())
	}
	if len(c.fetchLatencies) > 0 {
		fmt.Fprintln(w, "\n--- Fetch Latency ---")
		fmt.Fprintln(w, "  "+Summarize(c.fetchLatencies).String())
	}

	if c.events != nil {
		c.events.Report(w, len(c.createLatencies), c.handoffs)
	}
	if c.scraper != nil {
		c.scraper.Report(w)
	}

	fmt.Fprintln(w)
}

// Summary is a percentile distribution of latencies.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize sorts durations in place and computes its distribution.
func Summarize(durations []time.Duration) Summary {
	n := len(durations)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[int(math.Ceil(float64(n)*0.95))-1],
		P99: durations[int(math.Ceil(float64(n)*0.99))-1],
		Max: durations[n-1],
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		s.Avg.Round(time.Microsecond),
		s.P50.Round(time.Microsecond),
		s.P95.Round(time.Microsecond),
		s.P99.Round(time.Microsecond),
		s.Max.Round(time.Microsecond),
		s.N,
	)
}
