package app

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextbridge/nextcloud-mcp/pkg/auth/registration"
	"github.com/nextbridge/nextcloud-mcp/pkg/config"
	"github.com/nextbridge/nextcloud-mcp/pkg/storage/sqlite"
)

var deregisterConfigFile string

var deregisterCmd = &cobra.Command{
	Use:   "deregister",
	Short: "Remove the dynamically registered OAuth client",
	Long: `Delete the bridge's dynamically registered OAuth client, both at the
identity provider (best effort, RFC 7592) and from local storage. Run this
before decommissioning a deployment that used enable_dcr.`,
	RunE: runDeregister,
}

func init() {
	deregisterCmd.Flags().StringVar(&deregisterConfigFile, "config", "", "Path to a config file")
}

func runDeregister(cmd *cobra.Command, _ []string) error {
	v, err := newViper(deregisterConfigFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	store, err := sqlite.Open(cmd.Context(), cfg.TokenStorageDB, cfg.TokenEncryptionKey)
	if err != nil {
		return err
	}
	defer store.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	if err := registration.Deregister(cmd.Context(), client, store); err != nil {
		return err
	}
	cmd.Println("OAuth client deregistered")
	return nil
}
