package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
)

func newCacheCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the saved document snapshot",
	}

	var asJSON bool
	info := &cobra.Command{
		Use:   "info",
		Short: "Show the saved snapshot metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			snapshots, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer snapshots.Close()

			out := cmd.OutOrStdout()
			meta, ok := snapshots.Info(cmd.Context())
			if asJSON {
				return json.NewEncoder(out).Encode(map[string]any{
					"backend":  cfg.Store.Backend,
					"present":  ok,
					"snapshot": meta,
				})
			}
			if !ok {
				fmt.Fprintf(out, "No snapshot saved (backend %s)\n", cfg.Store.Backend)
				return nil
			}
			fmt.Fprintf(out, "Backend:   %s\n", cfg.Store.Backend)
			fmt.Fprintf(out, "Version:   %s\n", meta.Version)
			fmt.Fprintf(out, "Saved:     %s\n", meta.Timestamp.Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintf(out, "Documents: %d\n", meta.Documents)
			fmt.Fprintf(out, "Size:      %d bytes (compressed)\n", meta.Bytes)
			return nil
		},
	}
	info.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the saved snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			snapshots, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer snapshots.Close()
			snapshots.ClearIndex(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Snapshot cleared")
			return nil
		},
	}

	cmd.AddCommand(info, clearCmd)
	return cmd
}

func openStore(ctx context.Context, cfg *config.Config) (*store.PersistentCache, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := store.OpenBackend(cfg.Store, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	return store.New(ctx, backend, cfg.Store.TTL)
}
