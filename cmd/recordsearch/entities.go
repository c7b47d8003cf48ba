package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/recordsearch-mcp/pkg/types"
)

var (
	showType string
	showJSON bool
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List indexed entities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		eng, _, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		entities, err := eng.ListEntities(cmd.Context())
		if err != nil {
			return err
		}
		if len(entities) == 0 {
			cmd.Println("No entities indexed.")
			return nil
		}
		for _, e := range entities {
			cmd.Println(e)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <entity>",
	Short: "Print an entity's chunks ordered by chunk id",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showType, "type", "t", "", "only chunks of this document type")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output chunks as JSON")
	rootCmd.AddCommand(entitiesCmd, showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	eng, _, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	var chunks []*types.Chunk
	if showType != "" {
		chunks, err = eng.GetByType(cmd.Context(), args[0], showType)
	} else {
		chunks, err = eng.GetByEntity(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}

	if showJSON {
		if chunks == nil {
			chunks = []*types.Chunk{}
		}
		data, err := json.MarshalIndent(chunks, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal chunks: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(chunks) == 0 {
		cmd.Printf("No chunks indexed for %s.\n", args[0])
		return nil
	}

	source := ""
	for _, ch := range chunks {
		if ch.SourcePath != source {
			source = ch.SourcePath
			cmd.Printf("%s %s %s\n", color.CyanString("==="), ch.DocumentType, source)
		}
		header := ch.ID
		if ch.Section != "" {
			header += " [" + ch.Section + "]"
		}
		cmd.Println(color.New(color.Bold).Sprint(header))
		cmd.Println(ch.Content)
		cmd.Println()
	}
	return nil
}
