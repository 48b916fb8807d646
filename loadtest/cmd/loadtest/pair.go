package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/whisper/stranger-chat/loadtest/client"
	"github.com/whisper/stranger-chat/loadtest/stats"
)

const payloadPrefix = "lt:"

type participant struct {
	c       *client.Client
	started time.Time
	paired  chan struct{}
	once    sync.Once
}

// runPair connects 2*pairs participants, asks all of them for a partner and
// has every paired participant send a few timestamped lines to its stranger.
func runPair(args []string) {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 500, "Number of pairs")
	ramp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts")
	matchTimeout := fs.Duration("match-timeout", 30*time.Second, "Time to wait for in_chat")
	messages := fs.Int("messages", 3, "Lines each paired participant sends")
	gap := fs.Duration("gap", 2*time.Second, "Delay between lines (the server allows 5 per 10s)")
	interests := fs.String("interests", "", "Comma-separated interests sent by every participant")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus endpoint")
	fs.Parse(args)

	var tags []string
	for _, t := range strings.Split(*interests, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	total := *pairs * 2
	fmt.Printf("Pair test: %d participants to %s (messages=%d, interests=%v)\n", total, *url, *messages, tags)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, 2*time.Second)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	fmt.Println("\n--- Phase 1: Connect ---")
	clients, interrupted := rampUp(ctx, *url, total, *concurrency, *ramp, collector)
	defer func() {
		fmt.Println("\n--- Cleanup ---")
		closeAll(clients)
		scraper.Stop()
		collector.Report()
	}()
	if interrupted {
		return
	}

	fmt.Println("\n--- Phase 2: Find partners ---")
	parts := make([]*participant, len(clients))
	for i, c := range clients {
		p := &participant{c: c, paired: make(chan struct{})}
		parts[i] = p

		c.On(client.TypeStatus, func(raw json.RawMessage) {
			var st client.Status
			if err := json.Unmarshal(raw, &st); err != nil || st.Status != client.StatusInChat {
				return
			}
			p.once.Do(func() {
				collector.AddPair(time.Since(p.started))
				close(p.paired)
			})
		})
		c.On(client.TypeMessage, func(raw json.RawMessage) {
			var m client.Message
			if err := json.Unmarshal(raw, &m); err != nil {
				return
			}
			if sent, ok := parsePayload(m.Content); ok {
				collector.AddMsgLatency(time.Since(sent))
			}
		})

		p.started = time.Now()
		if err := c.FindPartner("", "", tags); err != nil {
			collector.AddError()
		}
	}

	paired := waitPaired(ctx, parts, *matchTimeout)
	fmt.Printf("Paired: %d/%d\n", len(paired), total)

	fmt.Println("\n--- Phase 3: Chat ---")
	var wg sync.WaitGroup
	for _, p := range paired {
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			for i := 0; i < *messages; i++ {
				if i > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(*gap):
					}
				}
				if err := c.SendChat(payloadPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)); err != nil {
					collector.AddError()
					return
				}
			}
		}(p.c)
	}
	wg.Wait()

	// Let the last lines arrive before leaving.
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
	}

	for _, p := range paired {
		_ = p.c.Leave()
	}
	for _, c := range clients {
		collector.AddRateLimited(c.GetMetrics().RateLimited)
	}
}

func waitPaired(ctx context.Context, parts []*participant, timeout time.Duration) []*participant {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var out []*participant
	for _, p := range parts {
		select {
		case <-p.paired:
			out = append(out, p)
		case <-deadline.C:
			return append(out, pairedSoFar(parts[len(out):])...)
		case <-ctx.Done():
			return out
		}
	}
	return out
}

func pairedSoFar(parts []*participant) []*participant {
	var out []*participant
	for _, p := range parts {
		select {
		case <-p.paired:
			out = append(out, p)
		default:
		}
	}
	return out
}

func parsePayload(content string) (time.Time, bool) {
	if !strings.HasPrefix(content, payloadPrefix) {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(content[len(payloadPrefix):], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}
