// File: cmd/diagnostic/index.go
package main

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyunix/go-localchat/internal/repository"
	"github.com/iyunix/go-localchat/internal/services"
	"github.com/iyunix/go-localchat/internal/services/ai"
	"github.com/iyunix/go-localchat/internal/services/retrieval"
)

func newIndexCommand() *cobra.Command {
	var (
		query     string
		projectID uint
		runs      int
		topK      int
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Measure embedding and vector query latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := &services.NoOpLogger{}

			db, err := repository.Open(repository.Options{Driver: cfg.DBDriver, DSN: cfg.DBDSN})
			if err != nil {
				return err
			}
			retrievalConfig := cfg.RetrievalConfig()
			index, err := retrieval.NewIndex(retrievalConfig, db, logger)
			if err != nil {
				log.Printf("ERROR: failed to initialize %s index: %v", retrievalConfig.Backend, err)
				return err
			}
			if closer, ok := index.(io.Closer); ok {
				defer closer.Close()
			}

			aiConfig := cfg.AIConfig()
			provider, err := ai.NewProvider(aiConfig)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			log.Printf("--- Running %s index test ---", index.Name())
			if err := index.HealthCheck(ctx); err != nil {
				log.Printf("ERROR: index health check failed: %v", err)
				return err
			}
			log.Printf("Test Query: %q (project %d)", query, projectID)

			startEmbedding := time.Now()
			embedding, err := provider.CreateEmbedding(ctx, query)
			if err != nil {
				log.Printf("ERROR: failed to create embedding: %v", err)
				return err
			}
			log.Printf("[TIMING] embedding (%d dims) took: %s", len(embedding), time.Since(startEmbedding))

			var total time.Duration
			completed := 0
			for i := 1; i <= runs; i++ {
				start := time.Now()
				matches, err := index.Query(ctx, projectID, embedding, topK)
				if err != nil {
					log.Printf("ERROR: query run #%d failed: %v", i, err)
					continue
				}
				d := time.Since(start)
				total += d
				completed++
				log.Printf("[TIMING] query run #%d took: %s (found %d matches)", i, d, len(matches))
				if i == 1 {
					for _, m := range matches {
						log.Printf("  %.3f  %s #%d", m.Score, m.DocumentName, m.ChunkID)
					}
				}
			}

			if completed > 0 {
				log.Printf("Average query latency over %d runs: %s", completed, total/time.Duration(completed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", "How do goroutines communicate?", "query text")
	cmd.Flags().UintVar(&projectID, "project", 1, "project id to search")
	cmd.Flags().IntVar(&runs, "runs", 5, "number of timed queries")
	cmd.Flags().IntVar(&topK, "top-k", 10, "matches per query")
	return cmd
}
