package stats

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// series is a server metric the scraper follows. Labelled series are summed.
type series struct {
	name  string
	label string
}

var trackedSeries = []series{
	{"stranger_connections_total", "Connections"},
	{"stranger_online_participants", "Online"},
	{"stranger_match_queue_size", "Queue Size"},
	{"stranger_active_chats", "Active Chats"},
	{"stranger_pairings_total", "Pairings"},
	{"stranger_messages_total", "Messages"},
	{"stranger_stale_candidates_total", "Stale Dropped"},
	{"stranger_rate_limited_total", "Rate Limited"},
}

const (
	waitSum   = "stranger_match_wait_seconds_sum"
	waitCount = "stranger_match_wait_seconds_count"
)

type snapshot struct {
	at     time.Time
	values map[string]float64
}

// Scraper polls the server's /metrics endpoint during a run.
type Scraper struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu        sync.Mutex
	snapshots []snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper creates a Scraper for url.
func NewScraper(url string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
}

// Start takes a snapshot now and then every interval until ctx ends or Stop
// is called. A final snapshot is taken on the way out.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrape()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrape()
				return
			case <-ticker.C:
				s.scrape()
			}
		}
	}()
}

// Stop ends scraping and waits for the final snapshot.
func (s *Scraper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scraper) scrape() {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return // server not up yet
	}
	defer resp.Body.Close()

	values, err := parseExposition(bufio.NewScanner(resp.Body))
	if err != nil {
		return
	}

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshot{at: time.Now(), values: values})
	s.mu.Unlock()
}

func parseExposition(sc *bufio.Scanner) (map[string]float64, error) {
	values := make(map[string]float64)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if name, v, ok := parseMetricLine(line); ok {
			values[name] += v
		}
	}
	return values, sc.Err()
}

// parseMetricLine splits `name{labels} value` or `name value`.
func parseMetricLine(line string) (string, float64, bool) {
	name, rest := line, ""
	if i := strings.IndexByte(line, '{'); i >= 0 {
		j := strings.IndexByte(line[i:], '}')
		if j < 0 {
			return "", 0, false
		}
		name, rest = line[:i], line[i+j+1:]
	} else {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return "", 0, false
		}
		name, rest = fields[0], fields[1]
	}

	fields := strings.Fields(rest)
	if name == "" || len(fields) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report prints initial, final, delta and peak for every tracked series.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := append([]snapshot(nil), s.snapshots...)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Println("\n--- Server Metrics (Prometheus) ---")
	fmt.Printf("  %d snapshots over %s\n\n", len(snaps), last.at.Sub(first.at).Round(time.Second))
	fmt.Printf("  %-14s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")

	for _, sr := range trackedSeries {
		peak := first.values[sr.name]
		for _, sn := range snaps {
			if v := sn.values[sr.name]; v > peak {
				peak = v
			}
		}
		a, b := first.values[sr.name], last.values[sr.name]
		fmt.Printf("  %-14s %10.0f %10.0f %10.0f %10.0f\n", sr.label, a, b, b-a, peak)
	}

	if n := last.values[waitCount] - first.values[waitCount]; n > 0 {
		avg := (last.values[waitSum] - first.values[waitSum]) / n
		fmt.Printf("\n  Match wait avg: %.4fs (%.0f pairings)\n", avg, n)
	}
}
