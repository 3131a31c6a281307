package app

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextbridge/nextcloud-mcp/pkg/config"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
	"github.com/nextbridge/nextcloud-mcp/pkg/server"
)

var serveConfigFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Long: `Run the MCP bridge: the HTTP server, the OAuth endpoints, and (when
enabled) the document-indexing pipeline. Configuration comes from NCMCP_*
environment variables or the optional config file.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigFile, "config", "", "Path to a config file")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := newViper(serveConfigFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	srv, err := server.New(ctx, cfg, Version)
	if err != nil {
		return err
	}

	logger.Infow("starting ncmcp", "version", Version, "mode", cfg.AuthMode().String())
	return srv.Run(ctx)
}
