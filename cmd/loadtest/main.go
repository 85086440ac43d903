// Command loadtest drives the session service with concurrent handoffs: each
// worker stores a payload, reads it back and, in single-use mode, checks that
// a second read is refused.
//
// Usage:
//
//	loadtest [-url http://localhost:5000] [-workers 50] [-duration 30s] [-payload 2048] [-nats nats://localhost:4222]
//
// All workers share one client IP, so start the service with
// RATE_LIMIT_CREATE=0 to measure throughput; otherwise most creates are
// answered with 429 and reported as rate limited. With -nats the tool also
// subscribes to session.* and compares the lifecycle events it receives with
// its own counts.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sentimeter/backend/internal/loadstats"
	"github.com/sentimeter/backend/internal/messaging"
)

// rateLimitBackoff is how long a worker pauses after a 429.
const rateLimitBackoff = 100 * time.Millisecond

type config struct {
	baseURL     string
	workers     int
	duration    time.Duration
	payloadSize int
	singleUse   bool
	scrape      bool
	natsURL     string
}

func main() {
	var cfg config
	flag.StringVar(&cfg.baseURL, "url", "http://localhost:5000", "session service base URL")
	flag.IntVar(&cfg.workers, "workers", 50, "concurrent workers")
	flag.DurationVar(&cfg.duration, "duration", 30*time.Second, "test duration")
	flag.IntVar(&cfg.payloadSize, "payload", 2048, "approximate payload size in bytes")
	flag.BoolVar(&cfg.singleUse, "single-use", true, "expect a second read to return 404")
	flag.BoolVar(&cfg.scrape, "scrape", true, "scrape server metrics during the run")
	flag.StringVar(&cfg.natsURL, "nats", "", "NATS URL to verify lifecycle events against (empty disables)")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := loadstats.NewCollector()
	var scraper *loadstats.Scraper
	if cfg.scrape {
		scraper = loadstats.NewScraper(cfg.baseURL+"/metrics", 2*time.Second)
		scraper.Start(context.Background())
		collector.SetScraper(scraper)
	}

	var natsClient *messaging.NATSClient
	if cfg.natsURL != "" {
		natsClient = subscribeEvents(cfg, collector)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.workers,
			MaxIdleConnsPerHost: cfg.workers,
		},
	}
	body := makeBody(cfg.payloadSize)

	log.Printf("loadtest: %d workers for %s against %s", cfg.workers, cfg.duration, cfg.baseURL)

	var wg sync.WaitGroup
	for i := 0; i < cfg.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				handoff(ctx, client, cfg, body, collector)
			}
		}()
	}
	wg.Wait()

	if scraper != nil {
		scraper.Stop()
	}
	if natsClient != nil {
		// Let in-flight events arrive before counting.
		if err := natsClient.Flush(); err != nil {
			log.Printf("loadtest: nats flush: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
		if err := natsClient.Unsubscribe(messaging.SubjectSessionAll); err != nil {
			log.Printf("loadtest: nats unsubscribe: %v", err)
		}
		natsClient.Close()
	}
	collector.Report(os.Stdout)

	if _, _, violations := collector.Counts(); violations > 0 {
		os.Exit(1)
	}
}

// subscribeEvents connects to NATS and tallies every session event into a
// tally attached to c.
func subscribeEvents(cfg config, c *loadstats.Collector) *messaging.NATSClient {
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.natsURL
	natsConfig.Name = "session-loadtest"
	client, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("loadtest: connect to NATS: %v", err)
	}

	tally := loadstats.NewEventTally(cfg.singleUse)
	if err := client.SubscribeSessionEvents(func(ev messaging.Event) {
		tally.Add(ev.Event)
	}); err != nil {
		log.Fatalf("loadtest: subscribe: %v", err)
	}
	// Make sure the subscription is registered before traffic starts.
	if err := client.Flush(); err != nil {
		log.Fatalf("loadtest: nats flush: %v", err)
	}
	c.SetEvents(tally)
	return client
}

// handoff runs one create → fetch (→ refetch) cycle.
func handoff(ctx context.Context, client *http.Client, cfg config, body []byte, c *loadstats.Collector) {
	start := time.Now()
	resp, err := do(ctx, client, http.MethodPost, cfg.baseURL+"/session", body)
	if err != nil {
		if ctx.Err() == nil {
			c.AddError()
		}
		return
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		c.AddRateLimited()
		select {
		case <-ctx.Done():
		case <-time.After(rateLimitBackoff):
		}
		return
	default:
		c.AddError()
		return
	}
	c.AddCreate(time.Since(start))

	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(resp.body, &created); err != nil || created.SessionID == "" {
		c.AddError()
		return
	}

	url := cfg.baseURL + "/session/" + created.SessionID
	start = time.Now()
	resp, err = do(ctx, client, http.MethodGet, url, nil)
	if err != nil || resp.status != http.StatusOK {
		if ctx.Err() == nil {
			c.AddError()
		}
		return
	}
	c.AddFetch(time.Since(start))

	if !cfg.singleUse {
		return
	}
	resp, err = do(ctx, client, http.MethodGet, url, nil)
	if err != nil {
		if ctx.Err() == nil {
			c.AddError()
		}
		return
	}
	switch resp.status {
	case http.StatusNotFound:
	case http.StatusOK:
		c.AddViolation()
	default:
		c.AddError()
	}
}

type response struct {
	status int
	body   []byte
}

func do(ctx context.Context, client *http.Client, method, url string, body []byte) (response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return response{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	return response{status: resp.StatusCode, body: data}, nil
}

// makeBody builds a POST /session body shaped like a dashboard result.
func makeBody(size int) []byte {
	payload := map[string]any{
		"totalComments":   3,
		"sentimentCounts": map[string]int{"positive": 2, "negative": 0, "neutral": 1},
		"padding":         strings.Repeat("x", max(size-128, 0)),
	}
	data, err := json.Marshal(map[string]any{"payload": payload})
	if err != nil {
		panic(fmt.Sprintf("loadtest: marshal body: %v", err))
	}
	return data
}
