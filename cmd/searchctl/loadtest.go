package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var defaultLoadQueries = []string{
	"justicia",
	"unidad de la humanidad",
	`"amor a Mi belleza"`,
	"oración obligatoria",
	"+mandamientos -ayuno",
	"resurreccion",
	"Bayán",
	"el día de Dios",
	"consulta AND unidad",
	"paz OR justicia",
}

type loadOptions struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	rps         float64
	limit       int
	queries     []string
}

type loadStats struct {
	total   atomic.Int64
	success atomic.Int64
	errors  atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies: make([]time.Duration, 0, 10000),
		codes:     make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, code int, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if code >= 200 && code < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[code]++
	s.mu.Unlock()
}

func newLoadTestCmd() *cobra.Command {
	opts := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Send concurrent searches to a running service and report latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := runLoadTest(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printLoadReport(cmd.OutOrStdout(), stats, opts.duration)
			if stats.total.Load() == 0 {
				return fmt.Errorf("no requests completed, is the service running at %s?", opts.baseURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the search service")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 10, "concurrent workers")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 30*time.Second, "test duration")
	cmd.Flags().Float64Var(&opts.rps, "rps", 0, "overall request rate cap (0 = unlimited)")
	cmd.Flags().IntVar(&opts.limit, "limit", 10, "limit parameter sent with each search")
	cmd.Flags().StringSliceVarP(&opts.queries, "query", "q", nil, "queries to cycle through (repeatable)")
	return cmd
}

func runLoadTest(ctx context.Context, opts *loadOptions) (*loadStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	queries := opts.queries
	if len(queries) == 0 {
		queries = defaultLoadQueries
	}
	concurrency := max(1, opts.concurrency)

	var limiter *rate.Limiter
	if opts.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rps), max(1, int(opts.rps)))
	}
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	stats := newLoadStats()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				if limiter != nil && limiter.Wait(ctx) != nil {
					return nil
				}
				target := fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d",
					opts.baseURL, url.QueryEscape(queries[i%len(queries)]), opts.limit)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					return fmt.Errorf("building request: %w", err)
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					stats.record(elapsed, 0, err)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.record(elapsed, resp.StatusCode, nil)
			}
			return nil
		})
	}
	return stats, g.Wait()
}

func printLoadReport(out io.Writer, s *loadStats, duration time.Duration) {
	total, success, errs := s.total.Load(), s.success.Load(), s.errors.Load()
	fmt.Fprintln(out, "=== Results ===")
	fmt.Fprintf(out, "Total Requests:  %d\n", total)
	fmt.Fprintf(out, "Successful:      %d\n", success)
	fmt.Fprintf(out, "Errors:          %d\n", errs)
	if total > 0 {
		fmt.Fprintf(out, "Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Fprintf(out, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := append([]time.Duration(nil), s.latencies...)
	codes := make(map[int]int64, len(s.codes))
	for k, v := range s.codes {
		codes[k] = v
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "=== Latency ===")
		fmt.Fprintf(out, "Min:    %s\n", latencies[0])
		fmt.Fprintf(out, "Avg:    %s\n", sum/time.Duration(len(latencies)))
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(out, "P%-5.0f %s\n", p, latencyPercentile(latencies, p))
		}
		fmt.Fprintf(out, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)
	for _, code := range keys {
		fmt.Fprintf(out, "  %d: %d\n", code, codes[code])
	}
}

func latencyPercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}
