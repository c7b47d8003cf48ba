package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/recordsearch-mcp/internal/mcp"
	"github.com/dshills/recordsearch-mcp/internal/storage"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("recordsearch version %s\n", version)
		cmd.Printf("Build Time:     %s\n", buildTime)
		cmd.Printf("MCP Server:     %s %s\n", mcp.ServerName, mcp.ServerVersion)
		cmd.Printf("Build Mode:     %s\n", storage.BuildMode)
		cmd.Printf("SQLite Driver:  %s\n", storage.DriverName)
		cmd.Printf("Schema Version: %s\n", storage.CurrentSchemaVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
