package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/kafka"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage admin keys for the maintenance endpoints",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate an admin key and the hash to put in server.adminKeyHashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, hash, err := apikey.GenerateKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key:  %s\n", raw)
			fmt.Fprintf(out, "Hash: %s\n", hash)
			fmt.Fprintln(out, "The key is shown only once.")
			return nil
		},
	})
	return cmd
}

func newCorpusCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Corpus change notifications",
	}

	var version, reason string
	notify := &cobra.Command{
		Use:   "notify",
		Short: "Publish a corpus-updated message so running services rebuild",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topics.CorpusUpdated == "" {
				return fmt.Errorf("kafka brokers and topics.corpusUpdated must be configured")
			}
			if version == "" {
				version = time.Now().UTC().Format(time.RFC3339)
			}

			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CorpusUpdated)
			defer producer.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			ev, err := analytics.NotifyCorpusUpdated(ctx, producer, version, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published corpus update %s to %s\n", ev.Version, producer.Topic())
			return nil
		},
	}
	notify.Flags().StringVar(&version, "version", "", "corpus version (defaults to the current time)")
	notify.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the rebuild")

	cmd.AddCommand(notify)
	return cmd
}
