package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/bridge"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/service"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/snippet"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

type searchOptions struct {
	limit   int
	works   []string
	json    bool
	timeout time.Duration
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the corpus with an in-process engine",
		Long: `Search builds the index in-process from the configured source (or the
saved snapshot) and prints ranked results. Only titles are indexed unless
works are loaded with --work.

Examples:
  searchctl search "sagrado"
  searchctl search --work bahaullah/aqdas "deberes prescritos"
  searchctl search --json '"amor a Mi belleza"' | jq '.results'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return runSearch(cmd.Context(), cmd.OutOrStdout(), cfg, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "l", 20, "maximum number of results")
	cmd.Flags().StringSliceVarP(&opts.works, "work", "w", nil, "load a work before searching, as autor/obra (repeatable)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the response as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "overall timeout")
	return cmd
}

func runSearch(ctx context.Context, out io.Writer, cfg *config.Config, query string, opts *searchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	svc, closeAll, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	for _, w := range opts.works {
		autor, obra, ok := strings.Cut(w, "/")
		if !ok {
			return fmt.Errorf("invalid --work %q, want autor/obra", w)
		}
		if _, err := svc.LoadWork(ctx, obra, autor); err != nil {
			return fmt.Errorf("loading work %s: %w", w, err)
		}
	}

	resp, err := svc.Search(ctx, query, opts.limit)
	if err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResults(out, resp)
	return nil
}

// openService builds a service that runs the engine inline, with no
// prefetching and no analytics.
func openService(ctx context.Context, cfg *config.Config) (*service.Service, func(), error) {
	cfg.Prefetch.Enabled = false

	snapshots, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	src, closeSource, err := source.New(cfg)
	if err != nil {
		snapshots.Close()
		return nil, nil, err
	}
	works, _ := src.(source.WorkSource)

	svc := service.New(cfg, service.Deps{
		Source: src,
		Works:  works,
		Store:  snapshots,
		Bridge: bridge.New(bridge.Options{
			Mode:    bridge.ModeInline,
			Timeout: cfg.Bridge.Timeout,
			Engine:  indexer.OptionsFromConfig(cfg.Index, cfg.Search),
		}),
	})
	closeAll := func() {
		_ = svc.Close()
		_ = closeSource()
	}
	if err := svc.Init(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("building index: %w", err)
	}
	return svc, closeAll, nil
}

func printResults(out io.Writer, resp *proto.SearchResponse) {
	if len(resp.Results) == 0 {
		fmt.Fprintf(out, "No results for %q\n", resp.Query)
		return
	}
	fmt.Fprintf(out, "%d of %d results for %q\n\n", len(resp.Results), resp.Total, resp.Query)
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%2d. [%s] %s | %s (%.2f)\n", i+1, r.Kind, r.Title, r.Author, r.Score)
		if r.Section != "" {
			fmt.Fprintf(out, "    %s\n", r.Section)
		}
		if r.Fragment != "" {
			fmt.Fprintf(out, "    %s\n", r.Fragment)
		}
	}
}

func newHighlightCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "highlight <text>",
		Short: "Wrap the query terms found in text with <mark> tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("--query is required")
			}
			fmt.Fprintln(cmd.OutOrStdout(), snippet.HighlightTerms(strings.Join(args, " "), query))
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search query whose terms are highlighted")
	return cmd
}
