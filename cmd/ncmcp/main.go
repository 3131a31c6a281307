// Package main is the entry point for the Nextcloud MCP bridge.
package main

import (
	"os"

	"github.com/nextbridge/nextcloud-mcp/cmd/ncmcp/app"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
