package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the knowledge-base tools exposed to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		// The catalog only needs tool metadata here; no gateway or index
		// calls are made.
		catalog := buildCatalog(nil, nil, cfg.Semantic.Mode)

		type toolInfo struct {
			Name        string                 `yaml:"name"`
			Description string                 `yaml:"description"`
			Parameters  map[string]interface{} `yaml:"parameters,omitempty"`
		}

		defs := catalog.Descriptors()
		infos := make([]toolInfo, 0, len(defs))
		for _, def := range defs {
			infos = append(infos, toolInfo{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			})
		}

		out, err := yaml.Marshal(infos)
		if err != nil {
			return fmt.Errorf("marshal tool list: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
