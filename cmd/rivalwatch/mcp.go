package main

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the rivalwatch tools over MCP on stdio.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		a.svc.Start(cmd.Context())
		srv := mcp.NewServer(&mcp.Implementation{Name: "rivalwatch", Version: "1.0.0"}, nil)
		a.svc.RegisterMCP(srv)
		a.logger.Info("mcp: serving on stdio")
		return srv.Run(cmd.Context(), &mcp.StdioTransport{})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
