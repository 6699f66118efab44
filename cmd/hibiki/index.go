package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harunnryd/hibiki/internal/backend"
	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/index"
	"github.com/harunnryd/hibiki/internal/model"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the local semantic index",
	Long:  `Fetches every Q&A pair from the knowledge-base service, embeds it, and rewrites the on-disk vector index. Runs one refresh and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		backendTimeout, err := config.DurationOrDefault(cfg.Backend.Timeout, config.DefaultBackendTimeout)
		if err != nil {
			return fmt.Errorf("parse backend timeout: %w", err)
		}
		gateway := backend.NewClient(cfg.Backend.BaseURL, backendTimeout)

		router, err := model.NewRouter(cfg.Models)
		if err != nil {
			return fmt.Errorf("init model router: %w", err)
		}

		ix, err := index.New(cfg.Semantic.IndexPath, gateway, router, cfg.Models.Embedding)
		if err != nil {
			return fmt.Errorf("init semantic index: %w", err)
		}

		lockWait, err := config.DurationOrDefault(cfg.Semantic.LockTimeout, config.DefaultSemanticLockTimeout)
		if err != nil {
			return fmt.Errorf("parse lock timeout: %w", err)
		}

		state, err := ix.RefreshWait(cmd.Context(), lockWait)
		if err != nil {
			return fmt.Errorf("refresh index: %w", err)
		}

		fmt.Printf("Indexed %d Q&A pairs at %s (model %s)\n",
			state.Count, state.LastSync.Format("2006-01-02 15:04:05 MST"), cfg.Models.Embedding)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().String("semantic.index_path", "", "directory holding the vector index")
	indexCmd.Flags().String("models.embedding", config.DefaultModelEmbedding, "embedding model name")
}
