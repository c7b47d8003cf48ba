package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/recordsearch-mcp/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Start the Model Context Protocol server for agent integration.

The server speaks JSON-RPC over stdin/stdout; logs go to stderr.

Client configuration:
  {
    "mcpServers": {
      "recordsearch": {
        "command": "/path/to/recordsearch",
        "args": ["serve"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		eng, logger, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		err = mcp.NewServer(eng, logger).Serve(cmd.Context())
		logger.Info("server stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
