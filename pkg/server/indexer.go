package server

import (
	"context"
	"fmt"

	"github.com/nextbridge/nextcloud-mcp/pkg/config"
	"github.com/nextbridge/nextcloud-mcp/pkg/storage/sqlite"
	"github.com/nextbridge/nextcloud-mcp/pkg/upstream"
)

// indexerClient gives the pipeline an upstream client for the indexing
// user. In single-user mode the configured credentials are used; in the
// other modes the user's stored app password is looked up per call, so a
// password provisioned after startup is picked up without a restart.
type indexerClient struct {
	cfg     *config.Config
	store   *sqlite.Store
	factory *upstream.Factory
	user    string
}

func (c *indexerClient) client(ctx context.Context) (*upstream.Client, error) {
	if c.cfg.AuthMode() == config.ModeSingleUserBasic {
		return c.factory.ForCredential(upstream.BasicAuth{
			Username: c.cfg.NextcloudUsername,
			Password: c.cfg.NextcloudPassword,
		}, c.user), nil
	}
	password, err := c.store.GetAppPassword(ctx, c.user)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("no app password stored for indexing user %q", c.user)
	}
	return c.factory.ForCredential(upstream.BasicAuth{
		Username: c.user,
		Password: password,
	}, c.user), nil
}

func (c *indexerClient) SearchByTag(ctx context.Context, user, tagID string) ([]upstream.FileInfo, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	return client.SearchByTag(ctx, user, tagID)
}

func (c *indexerClient) FetchByHref(ctx context.Context, href string) ([]byte, string, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, "", err
	}
	return client.FetchByHref(ctx, href)
}
