// Package app provides the entry point for the ncmcp command-line
// application.
package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nextbridge/nextcloud-mcp/pkg/config"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:               "ncmcp",
	DisableAutoGenTag: true,
	Short:             "ncmcp bridges a Nextcloud deployment to MCP clients",
	Long: `ncmcp exposes a Nextcloud deployment to MCP (Model Context Protocol)
clients. It authenticates callers in one of three modes (single-user Basic,
multi-user Basic, or OAuth resource server), enforces per-tool scopes, and
optionally runs a background pipeline that indexes tagged documents into an
embedded vector store for semantic search.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the ncmcp CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deregisterCmd)
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// newViper builds the configuration source: NCMCP_* environment
// variables over an optional config file.
func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("NCMCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	config.SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ncmcp version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("ncmcp %s\n", Version)
		},
	}
}
