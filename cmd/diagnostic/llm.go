// File: cmd/diagnostic/llm.go
package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyunix/go-localchat/internal/services/ai"
	"github.com/iyunix/go-localchat/internal/services/chat"
)

func newLLMCommand() *cobra.Command {
	var question string
	cmd := &cobra.Command{
		Use:   "llm",
		Short: "Stream a test completion and report latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			aiConfig := cfg.AIConfig()
			provider, err := ai.NewProvider(aiConfig)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), aiConfig.Timeout)
			defer cancel()

			log.Printf("--- Testing %s provider at %s (model %s, mode %s) ---",
				aiConfig.Provider, aiConfig.BaseURL, aiConfig.Model, aiConfig.APIMode)
			if err := provider.HealthCheck(ctx); err != nil {
				log.Printf("ERROR: health check failed: %v", err)
				return err
			}
			log.Println("[OK] health check passed")

			prompt := chat.BuildPrompt([]chat.Turn{{Role: "user", Content: question}})
			var out strings.Builder
			var firstToken time.Duration
			deltas := 0
			start := time.Now()
			err = provider.StreamCompletion(ctx, ai.CompletionRequest{
				Model:       aiConfig.Model,
				Prompt:      prompt,
				MaxTokens:   aiConfig.MaxTokens,
				Temperature: aiConfig.Temperature,
				Stop:        aiConfig.Stop,
			}, func(delta string) error {
				if deltas == 0 {
					firstToken = time.Since(start)
				}
				deltas++
				out.WriteString(delta)
				return nil
			})
			if err != nil {
				log.Printf("ERROR: completion failed: %v", err)
				return err
			}
			if deltas == 0 {
				return fmt.Errorf("model returned no tokens; check the prompt template and stop sequences")
			}

			total := time.Since(start)
			log.Printf("[TIMING] first token after %s, %d deltas in %s", firstToken, deltas, total)
			log.Printf("[TOKENS] %d (cl100k)", ai.CountTokens(out.String(), deltas))
			fmt.Fprintf(cmd.OutOrStdout(), "Response: %s\n", strings.TrimSpace(out.String()))

			s := provider.GetStatus(ctx)
			log.Printf("[STATUS] healthy=%t provider=%s model=%s %s", s.IsHealthy, s.Provider, s.Model, s.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&question, "question", "What is the answer to life, the universe and everything?", "prompt to send")
	return cmd
}
