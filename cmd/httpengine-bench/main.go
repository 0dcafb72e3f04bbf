package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tternquist/httpengine/internal/httpengine"
)

type options struct {
	origin      string
	path        string
	method      string
	requests    int
	concurrency int
	timeout     time.Duration
	poolLow     int
	poolHigh    int
	warmup      int
	rps         float64
}

type runStats struct {
	total     int64
	errors    int64
	latencies []int64
	statuses  map[int]int64
	mu        sync.Mutex
	index     uint64
}

func main() {
	opts := parseFlags()
	logger := log.New(os.Stdout, "httpengine-bench ", log.LstdFlags)

	cfg := httpengine.DefaultConfiguration()
	cfg.PoolSize = httpengine.PoolSize{Low: opts.poolLow, High: opts.poolHigh}
	cfg.MaxRequestsPerSecond = opts.rps

	client, err := httpengine.New(opts.origin, nil, &cfg)
	if err != nil {
		logger.Fatalf("failed to build client: %v", err)
	}
	defer client.Close()

	if opts.warmup > 0 {
		logger.Printf("warmup: %d requests", opts.warmup)
		runBenchmark(client, opts, opts.warmup, false, logger)
	}

	logger.Printf("starting benchmark: %d requests, %d concurrency", opts.requests, opts.concurrency)
	start := time.Now()
	stats := runBenchmark(client, opts, opts.requests, true, logger)
	elapsed := time.Since(start)

	printSummary(stats, elapsed, logger)

	poolStats := client.PoolStats()
	logger.Printf("final pool state: borrowed=%d available=%d waiting=%d",
		poolStats.Borrowed, poolStats.Available, poolStats.Waiting)
	for _, entry := range client.RecentErrors() {
		logger.Printf("recent error: op=%s err=%s", entry.Op, entry.Err)
	}
}

func parseFlags() options {
	opts := options{}
	flag.StringVar(&opts.origin, "origin", "http://127.0.0.1:8080", "Origin URL (scheme://host[:port])")
	flag.StringVar(&opts.path, "path", "/", "Request path")
	flag.StringVar(&opts.method, "method", "GET", "HTTP method")
	flag.IntVar(&opts.requests, "requests", 10000, "Number of requests to send")
	flag.IntVar(&opts.concurrency, "concurrency", 50, "Number of concurrent workers")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Per-request deadline")
	flag.IntVar(&opts.poolLow, "pool-low", 5, "Pool low-water connection count")
	flag.IntVar(&opts.poolHigh, "pool-high", 50, "Pool high-water connection count")
	flag.IntVar(&opts.warmup, "warmup", 0, "Warmup requests (not recorded)")
	flag.Float64Var(&opts.rps, "rps", 0, "Requests per second cap (0 = unlimited)")
	flag.Parse()

	if opts.concurrency <= 0 {
		opts.concurrency = 1
	}
	if opts.requests <= 0 {
		opts.requests = 1
	}
	opts.method = strings.ToUpper(strings.TrimSpace(opts.method))
	return opts
}

func runBenchmark(client *httpengine.Client, opts options, total int, record bool, logger *log.Logger) runStats {
	stats := runStats{
		total:     int64(total),
		latencies: make([]int64, total),
		statuses:  make(map[int]int64),
	}

	jobs := make(chan struct{}, opts.concurrency)
	var wg sync.WaitGroup
	for i := 0; i < opts.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
				req, err := httpengine.NewRequest(opts.method, opts.origin+opts.path, nil)
				if err != nil {
					cancel()
					atomic.AddInt64(&stats.errors, 1)
					continue
				}

				start := time.Now()
				resp, err := client.Send(ctx, req)
				duration := time.Since(start)
				cancel()

				if record {
					index := atomic.AddUint64(&stats.index, 1) - 1
					if int(index) < len(stats.latencies) {
						stats.latencies[index] = duration.Microseconds()
					}
				}

				if err != nil {
					atomic.AddInt64(&stats.errors, 1)
					continue
				}
				if resp != nil {
					io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
					if record {
						stats.mu.Lock()
						stats.statuses[resp.StatusCode]++
						stats.mu.Unlock()
					}
				}
			}
		}()
	}

	for i := 0; i < total; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()

	if record {
		logger.Printf("completed %d requests with %d errors", total, stats.errors)
	}
	return stats
}

func printSummary(stats runStats, elapsed time.Duration, logger *log.Logger) {
	latencies := stats.latencies[:stats.index]
	if len(latencies) == 0 {
		logger.Printf("no latency samples recorded")
		return
	}
	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	avg := average(sorted)
	p50 := percentile(sorted, 50)
	p95 := percentile(sorted, 95)
	p99 := percentile(sorted, 99)
	min := sorted[0]
	max := sorted[len(sorted)-1]
	qps := float64(stats.total) / elapsed.Seconds()

	logger.Printf("elapsed: %s", elapsed.Round(time.Millisecond))
	logger.Printf("qps: %.2f", qps)
	logger.Printf("latency (ms): avg=%.3f p50=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f",
		toMillis(avg), toMillis(p50), toMillis(p95), toMillis(p99), toMillis(min), toMillis(max))

	stats.mu.Lock()
	if len(stats.statuses) > 0 {
		logger.Printf("status counts:")
		for _, code := range sortedKeys(stats.statuses) {
			logger.Printf("  %d %s: %d", code, http.StatusText(code), stats.statuses[code])
		}
	}
	stats.mu.Unlock()
	logger.Printf("errors: %d", stats.errors)
}

func average(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return sum / int64(len(values))
}

func percentile(values []int64, percentile int) int64 {
	if len(values) == 0 {
		return 0
	}
	if percentile <= 0 {
		return values[0]
	}
	if percentile >= 100 {
		return values[len(values)-1]
	}
	rank := (float64(percentile) / 100) * float64(len(values)-1)
	index := int(rank + 0.5)
	if index < 0 {
		index = 0
	}
	if index >= len(values) {
		index = len(values) - 1
	}
	return values[index]
}

func toMillis(value int64) float64 {
	return float64(value) / 1000
}

func sortedKeys(statuses map[int]int64) []int {
	keys := make([]int, 0, len(statuses))
	for code := range statuses {
		keys = append(keys, code)
	}
	sort.Ints(keys)
	return keys
}
