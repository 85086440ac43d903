package loadstats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// snapshot holds the server counters tracked during a load test.
type snapshot struct {
	timestamp     time.Time
	created       float64
	consumed      float64
	hits          float64
	misses        float64
	fetchErrors   float64
	backendErrors float64
}

// Scraper periodically fetches the service's Prometheus metrics and records
// snapshots for the final report.
type Scraper struct {
	metricsURL string
	interval   time.Duration

	mu        sync.Mutex
	snapshots []snapshot

	cancel context.CancelFunc
	done   chan struct{}
	client *http.Client
}

// NewScraper creates a Scraper that fetches metricsURL every interval.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Start takes an initial snapshot and keeps scraping in the background until
// ctx is cancelled or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop stops the background scraper and waits for the final snapshot.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) scrapeOnce() {
	snap, err := s.fetch()
	if err != nil {
		// The server may not be ready yet.
		return
	}

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch() (snapshot, error) {
	resp, err := s.client.Get(s.metricsURL)
	if err != nil {
		return snapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snapshot{}, fmt.Errorf("metrics: unexpected status %d", resp.StatusCode)
	}
	return parseSnapshot(resp.Body)
}

func parseSnapshot(r io.Reader) (snapshot, error) {
	snap := snapshot{timestamp: time.Now()}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		name, labels, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		switch name {
		case "sessions_created_total":
			snap.created = value
		case "sessions_consumed_total":
			snap.consumed = value
		case "session_fetches_total":
			switch {
			case strings.Contains(labels, `result="hit"`):
				snap.hits = value
			case strings.Contains(labels, `result="miss"`):
				snap.misses = value
			case strings.Contains(labels, `result="error"`):
				snap.fetchErrors = value
			}
		case "session_backend_errors_total":
			// One line per op label; sum them.
			snap.backendErrors += value
		}
	}

	return snap, scanner.Err()
}

// parseMetricLine splits a Prometheus text exposition line into the metric
// name, the raw label block (without braces) and the sample value.
func parseMetricLine(line string) (name, labels string, value float64, ok bool) {
	raw := line
	if idx := strings.IndexByte(raw, '{'); idx != -1 {
		closing := strings.IndexByte(raw[idx:], '}')
		if closing == -1 {
			return "", "", 0, false
		}
		name = raw[:idx]
		labels = raw[idx+1 : idx+closing]
		raw = name + raw[idx+closing+1:]
	}

	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", "", 0, false
	}
	if name == "" {
		name = fields[0]
	}

	// A trailing timestamp is optional; the value is always the second field.
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return "", "", 0, false
	}
	return name, labels, v, true
}

// Report writes the change in each server counter between the first and
// last snapshot.
func (s *Scraper) Report(w io.Writer) {
	s.mu.Lock()
	snaps := make([]snapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Fprintln(w, "\n--- Server Metrics (no data collected) ---")
		return
	}

	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Fprintln(w, "\n--- Server Metrics (Prometheus) ---")
	fmt.Fprintf(w, "  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	rows := []struct {
		label        string
		first, final float64
	}{
		{"Created", first.created, last.created},
		{"Consumed", first.consumed, last.consumed},
		{"Fetch hits", first.hits, last.hits},
		{"Fetch misses", first.misses, last.misses},
		{"Fetch errors", first.fetchErrors, last.fetchErrors},
		{"Backend errors", first.backendErrors, last.backendErrors},
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-16s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta")
	fmt.Fprintf(w, "  %-16s %10s %10s %10s\n", "------", "-------", "-----", "-----")
	for _, r := range rows {
		fmt.Fprintf(w, "  %-16s %10.0f %10.0f %10.0f\n", r.label, r.first, r.final, r.final-r.first)
	}
}
