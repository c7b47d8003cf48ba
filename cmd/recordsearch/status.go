package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	statusJSON   bool
	verifyEntity string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		eng, _, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		st, err := eng.Status(cmd.Context())
		if err != nil {
			return err
		}

		if statusJSON {
			data, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal status: %w", err)
			}
			cmd.Println(string(data))
			return nil
		}

		cmd.Printf("Index:     %s\n", st.IndexDir)
		cmd.Printf("Embedder:  %s/%s (%d dims)\n", st.Embedder.Provider, st.Embedder.Model, st.Embedder.Dimension)
		cmd.Printf("Storage:   %s, schema %s, %.2f MB\n", st.Keyword.Driver, st.Keyword.SchemaVersion,
			float64(st.Keyword.SizeBytes)/(1024*1024))
		cmd.Printf("Entities:  %d\n", st.Entities)
		cmd.Printf("Documents: %d\n", st.Keyword.DocumentCount)
		cmd.Printf("Chunks:    %d keyword, %d vector\n", st.Keyword.ChunkCount, st.Vector.ChunkCount)
		if st.Keyword.ChunkCount != st.Vector.ChunkCount {
			cmd.Printf("%s indices disagree, run 'recordsearch verify'\n", color.YellowString("warning:"))
		}
		if last := st.Keyword.LastBuild; last != nil {
			cmd.Printf("Last build: %s %s at %s (%s)\n", last.Mode, last.RunID,
				last.StartedAt.Local().Format("2006-01-02 15:04:05"), last.Duration.Round(1e6))
		}
		if st.Build != nil {
			cmd.Printf("Build running: %s\n", st.Build.RunID)
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that both indices hold the same chunks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		eng, _, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		warnings, err := eng.Verify(cmd.Context(), verifyEntity)
		if err != nil {
			return err
		}
		if len(warnings) == 0 {
			cmd.Printf("%s indices are consistent\n", color.GreenString("✓"))
			return nil
		}
		for _, w := range warnings {
			cmd.Printf("%s %s\n", color.YellowString("warning:"), w)
		}
		return fmt.Errorf("%d consistency warnings", len(warnings))
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output status as JSON")
	verifyCmd.Flags().StringVarP(&verifyEntity, "entity", "e", "", "only check this entity")
	rootCmd.AddCommand(statusCmd, verifyCmd)
}
