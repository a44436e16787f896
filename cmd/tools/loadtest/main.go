// main.go - Load testing tool for the vkanalytics ingestion API
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	vegeta "github.com/tsenart/vegeta/v12/lib"

	"vkanalytics/internal/events"
)

// LoadConfig holds the configuration for the load test
type LoadConfig struct {
	BaseURL     string
	Rate        int
	Duration    time.Duration
	Workers     uint64
	Timeout     time.Duration
	BatchSize   int
	Visitors    int
	EnrichEvery int
	Output      string
}

var (
	pagePaths = []string{"/", "/services", "/work", "/about", "/contact", "/blog", "/pricing", "/faq"}
	referrers = []string{"", "https://www.google.com/", "https://www.linkedin.com/", "https://news.ycombinator.com/", "https://t.co/abc"}
	campaigns = []struct{ source, medium, campaign string }{
		{},
		{"google", "cpc", "brand"},
		{"linkedin", "social", "launch"},
		{"newsletter", "email", "monthly"},
	}
	eventTypes = []events.EventType{
		events.TypeClick, events.TypeFAQOpen, events.TypeVideoPlay, events.TypeVideoProgress,
		events.TypeMenuOpen, events.TypeFormOpen, events.TypeTimeOnSite, events.TypeThemeSwitch,
	}
	userAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
	}
)

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the server")
	rate := flag.Int("rate", 50, "Requests per second")
	duration := flag.Duration("d", 30*time.Second, "Duration of the test")
	workers := flag.Uint64("workers", 10, "Initial number of attack workers")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	batchSize := flag.Int("batch", 5, "Events per ingestion request")
	visitorCount := flag.Int("visitors", 500, "Size of the simulated visitor pool")
	enrichEvery := flag.Int("enrich-every", 0, "Send a visitor enrichment every N requests (0 = never)")
	output := flag.String("o", "loadtest_results.json", "File for the JSON summary (empty to skip)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := &LoadConfig{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Rate:        *rate,
		Duration:    *duration,
		Workers:     *workers,
		Timeout:     *timeout,
		BatchSize:   clamp(*batchSize, 1, events.MaxBatchSize),
		Visitors:    max(*visitorCount, 1),
		EnrichEvery: *enrichEvery,
		Output:      *output,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		fmt.Printf("Received signal %v, stopping attack...\n", sig)
		cancel()
	}()

	fmt.Println("\n=== vkanalytics Load Testing Tool ===")
	fmt.Printf("  URL (-url):             %s\n", cfg.BaseURL)
	fmt.Printf("  Rate (-rate):           %d req/s\n", cfg.Rate)
	fmt.Printf("  Duration (-d):          %v\n", cfg.Duration)
	fmt.Printf("  Batch size (-batch):    %d events\n", cfg.BatchSize)
	fmt.Printf("  Visitors (-visitors):   %d\n", cfg.Visitors)
	fmt.Printf("  Enrich (-enrich-every): %d\n", cfg.EnrichEvery)
	fmt.Println("=====================================")

	logger.Info("Starting attack",
		slog.String("target", cfg.BaseURL+"/api/analytics/events"),
		slog.Int("rate", cfg.Rate),
		slog.Duration("duration", cfg.Duration))

	metrics := runAttack(ctx, cfg)
	printResults(metrics)

	if cfg.Output != "" {
		if err := exportResults(cfg.Output, metrics); err != nil {
			logger.Error("Failed to write results", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Results written", slog.String("file", cfg.Output))
	}
}

// runAttack drives the server with vegeta until the duration elapses or ctx
// is cancelled.
func runAttack(ctx context.Context, cfg *LoadConfig) *vegeta.Metrics {
	attacker := vegeta.NewAttacker(
		vegeta.Timeout(cfg.Timeout),
		vegeta.Workers(cfg.Workers),
		vegeta.KeepAlive(true),
	)
	pacer := vegeta.Rate{Freq: cfg.Rate, Per: time.Second}

	var metrics vegeta.Metrics
	results := attacker.Attack(newTargeter(cfg), pacer, cfg.Duration, "ingest")
	done := ctx.Done()

loop:
	for {
		select {
		case res, ok := <-results:
			if !ok {
				break loop
			}
			metrics.Add(res)
		case <-done:
			attacker.Stop()
			done = nil
		}
	}
	metrics.Close()
	return &metrics
}

// newTargeter returns a vegeta targeter producing event batches for a pool
// of simulated visitors, with an occasional enrichment PATCH.
func newTargeter(cfg *LoadConfig) vegeta.Targeter {
	visitorIDs := make([]string, cfg.Visitors)
	for i := range visitorIDs {
		visitorIDs[i] = uuid.NewString()
	}

	var (
		mu    sync.Mutex
		count int
		rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
	)

	return func(tgt *vegeta.Target) error {
		if tgt == nil {
			return vegeta.ErrNilTarget
		}

		mu.Lock()
		count++
		n := count
		visitorID := visitorIDs[rng.Intn(len(visitorIDs))]
		body, err := json.Marshal(generateBatch(rng, visitorID, cfg.BatchSize))
		ua := userAgents[rng.Intn(len(userAgents))]
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to marshal batch: %w", err)
		}

		tgt.Method = http.MethodPost
		tgt.URL = cfg.BaseURL + "/api/analytics/events"
		tgt.Body = body

		if cfg.EnrichEvery > 0 && n%cfg.EnrichEvery == 0 {
			tgt.Method = http.MethodPatch
			tgt.URL = cfg.BaseURL + "/api/analytics/visitors/" + visitorID
			tgt.Body, err = json.Marshal(map[string]string{
				"email": fmt.Sprintf("load+%s@example.com", visitorID[:8]),
				"name":  "Load Test",
			})
			if err != nil {
				return err
			}
		}

		tgt.Header = http.Header{
			"Content-Type":   []string{"application/json"},
			"User-Agent":     []string{ua},
			"Sec-Fetch-Site": []string{"cross-site"},
		}
		return nil
	}
}

// generateBatch builds a batch the ingestion endpoint accepts.
func generateBatch(rng *rand.Rand, visitorID string, size int) map[string]any {
	utm := campaigns[rng.Intn(len(campaigns))]
	referrer := referrers[rng.Intn(len(referrers))]
	now := time.Now()

	batch := make([]events.IncomingEvent, size)
	for i := range batch {
		eventType := eventTypes[rng.Intn(len(eventTypes))]
		ev := events.IncomingEvent{
			EventType:   string(eventType),
			Timestamp:   now.Add(time.Duration(i-size) * time.Second).UnixMilli(),
			PageURL:     "https://example.com" + pagePaths[rng.Intn(len(pagePaths))],
			Referrer:    referrer,
			UTMSource:   utm.source,
			UTMMedium:   utm.medium,
			UTMCampaign: utm.campaign,
		}
		switch eventType {
		case events.TypeTimeOnSite:
			ev.Metadata = map[string]any{"seconds": 5 + rng.Intn(300)}
		case events.TypeVideoProgress:
			ev.Metadata = map[string]any{"percent": 25 * (1 + rng.Intn(4))}
		case events.TypeFormOpen:
			ev.Metadata = map[string]any{"form_id": events.FormBookCall}
		}
		batch[i] = ev
	}

	return map[string]any{"visitor_id": visitorID, "events": batch}
}

func printResults(m *vegeta.Metrics) {
	fmt.Println("\nLoad Test Results:")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\n%s\t%s\n", "METRIC", "VALUE")
	fmt.Fprintf(w, "%s\t%s\n", "------", "-----")
	fmt.Fprintf(w, "Total Requests\t%d\n", m.Requests)
	fmt.Fprintf(w, "Duration\t%v\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Rate\t%.2f req/s\n", m.Rate)
	fmt.Fprintf(w, "Throughput\t%.2f req/s\n", m.Throughput)
	fmt.Fprintf(w, "Success Ratio\t%.2f%%\n", m.Success*100)
	fmt.Fprintf(w, "Min Latency\t%v\n", m.Latencies.Min)
	fmt.Fprintf(w, "Mean Latency\t%v\n", m.Latencies.Mean)
	fmt.Fprintf(w, "P50 Latency\t%v\n", m.Latencies.P50)
	fmt.Fprintf(w, "P95 Latency\t%v\n", m.Latencies.P95)
	fmt.Fprintf(w, "P99 Latency\t%v\n", m.Latencies.P99)
	fmt.Fprintf(w, "Max Latency\t%v\n", m.Latencies.Max)
	w.Flush()

	if len(m.StatusCodes) > 0 {
		fmt.Println("\nStatus Code Distribution:")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", "STATUS CODE", "COUNT", "PERCENTAGE", "GRAPH")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", "-----------", "-----", "----------", "-----")

		codes := make([]string, 0, len(m.StatusCodes))
		maxCount := 1
		for code, count := range m.StatusCodes {
			codes = append(codes, code)
			if count > maxCount {
				maxCount = count
			}
		}
		sort.Strings(codes)

		const maxBarLength = 50
		for _, code := range codes {
			count := m.StatusCodes[code]
			pct := 100 * float64(count) / float64(max(m.Requests, 1))
			bar := strings.Repeat("█", count*maxBarLength/maxCount)
			fmt.Fprintf(w, "%s\t%d\t%.2f%%\t%s\n", code, count, pct, bar)
		}
		w.Flush()
	}

	if len(m.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range m.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

// exportResults saves the vegeta metrics for external visualization.
func exportResults(path string, m *vegeta.Metrics) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
