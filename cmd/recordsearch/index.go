package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/recordsearch-mcp/internal/engine"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

var (
	indexEntity string
	indexUpsert bool
	indexJSON   bool
)

var indexCmd = &cobra.Command{
	Use:   "index <dir>",
	Short: "Build the indices from a directory of records",
	Long: `Loads every entity directory under <dir> and rebuilds both indices.

With --entity only that entity is rebuilt; every other entity stays exactly
as it was. With --upsert existing chunks are replaced by id and nothing is
removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVarP(&indexEntity, "entity", "e", "", "rebuild only this entity")
	indexCmd.Flags().BoolVar(&indexUpsert, "upsert", false, "replace chunks by id instead of clearing")
	indexCmd.Flags().BoolVar(&indexJSON, "json", false, "output the build report as JSON")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}

	eng, _, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	report, err := eng.IndexPath(cmd.Context(), root, engine.PathOptions{
		Entity: indexEntity,
		Upsert: indexUpsert,
	})
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if indexJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	printReport(cmd, report)
	return nil
}

func printReport(cmd *cobra.Command, report *types.BuildReport) {
	bold := color.New(color.Bold).SprintFunc()

	cmd.Printf("%s %s build %s\n", color.GreenString("✓"), report.Mode, report.RunID)
	if report.Scope != "" {
		cmd.Printf("  Scope:    %s\n", report.Scope)
	}
	cmd.Printf("  Documents: %d\n", report.Documents)
	cmd.Printf("  Chunks:    %s added, %d removed\n", bold(report.ChunksAdded), report.ChunksRemoved)
	cmd.Printf("  Duration:  %s\n", report.Duration.Round(1e6))

	for _, entity := range report.Entities() {
		cmd.Printf("    %-20s %d chunks\n", entity, report.PerEntity[entity])
	}

	for _, w := range report.Warnings {
		cmd.Printf("  %s %s\n", color.YellowString("warning:"), w)
	}
}
