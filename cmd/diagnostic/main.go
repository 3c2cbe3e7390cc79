// File: cmd/diagnostic/main.go
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/iyunix/go-localchat/internal/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	root := &cobra.Command{
		Use:          "diagnostic",
		Short:        "Check connectivity to the LLM server and vector index",
		SilenceUsage: true,
	}
	root.AddCommand(newLLMCommand(), newIndexCommand())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		log.Printf("FATAL: invalid configuration: %v", err)
		return nil, err
	}
	return cfg, nil
}
