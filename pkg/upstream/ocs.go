package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ocsHeader returns the headers every OCS call needs.
func ocsHeader() http.Header {
	h := http.Header{}
	h.Set("OCS-APIRequest", "true")
	h.Set("Accept", "application/json")
	return h
}

// ocsEnvelope is the standard OCS JSON wrapper.
type ocsEnvelope[T any] struct {
	OCS struct {
		Meta struct {
			Status     string `json:"status"`
			StatusCode int    `json:"statuscode"`
			Message    string `json:"message"`
		} `json:"meta"`
		Data T `json:"data"`
	} `json:"ocs"`
}

func decodeOCS[T any](body []byte) (T, error) {
	var env ocsEnvelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		var zero T
		return zero, fmt.Errorf("parsing OCS response: %w", err)
	}
	return env.OCS.Data, nil
}

// ServerStatus is the unauthenticated status.php document.
type ServerStatus struct {
	Installed     bool   `json:"installed"`
	Maintenance   bool   `json:"maintenance"`
	Version       string `json:"version"`
	VersionString string `json:"versionstring"`
	Edition       string `json:"edition"`
}

// Status fetches status.php, which needs no authentication and serves as
// the readiness reachability probe.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	resp, err := c.do(ctx, request{app: "ocs", method: http.MethodGet, path: "/status.php"})
	if err != nil {
		return nil, err
	}
	var status ServerStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return nil, fmt.Errorf("parsing status.php: %w", err)
	}
	return &status, nil
}

// Capabilities fetches the deployment's capability document.
func (c *Client) Capabilities(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.do(ctx, request{
		app:    "ocs",
		method: http.MethodGet,
		path:   "/ocs/v2.php/cloud/capabilities?format=json",
		header: ocsHeader(),
	})
	if err != nil {
		return nil, err
	}
	data, err := decodeOCS[json.RawMessage](resp.Body)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ProvisionAppPassword asks the upstream to mint an app password for the
// authenticated user.
func (c *Client) ProvisionAppPassword(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, request{
		app:    "ocs",
		method: http.MethodGet,
		path:   "/ocs/v2.php/core/getapppassword?format=json",
		header: ocsHeader(),
	})
	if err != nil {
		return "", err
	}
	data, err := decodeOCS[struct {
		AppPassword string `json:"apppassword"`
	}](resp.Body)
	if err != nil {
		return "", err
	}
	if data.AppPassword == "" {
		return "", fmt.Errorf("upstream returned empty app password")
	}
	return data.AppPassword, nil
}

// RevokeAppPassword revokes the app password currently used as the
// client's credential.
func (c *Client) RevokeAppPassword(ctx context.Context) error {
	_, err := c.do(ctx, request{
		app:    "ocs",
		method: http.MethodDelete,
		path:   "/ocs/v2.php/core/apppassword?format=json",
		header: ocsHeader(),
	})
	return err
}

// Webhook is one registered webhook_listeners entry.
type Webhook struct {
	ID    int64  `json:"id"`
	URI   string `json:"uri"`
	Event string `json:"event"`
}

// RegisterWebhook registers a webhook for the given event class pointed at
// uri and returns the upstream-assigned id.
func (c *Client) RegisterWebhook(ctx context.Context, event, uri string) (int64, error) {
	form := url.Values{}
	form.Set("httpMethod", "POST")
	form.Set("uri", uri)
	form.Set("event", event)

	header := ocsHeader()
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, request{
		app:    "webhooks",
		method: http.MethodPost,
		path:   "/ocs/v2.php/apps/webhook_listeners/api/v1/webhooks?format=json",
		header: header,
		body:   []byte(form.Encode()),
	})
	if err != nil {
		return 0, err
	}
	data, err := decodeOCS[Webhook](resp.Body)
	if err != nil {
		return 0, err
	}
	return data.ID, nil
}

// DeleteWebhook removes an upstream webhook registration by id.
func (c *Client) DeleteWebhook(ctx context.Context, id int64) error {
	_, err := c.do(ctx, request{
		app:    "webhooks",
		method: http.MethodDelete,
		path:   "/ocs/v2.php/apps/webhook_listeners/api/v1/webhooks/" + strconv.FormatInt(id, 10) + "?format=json",
		header: ocsHeader(),
	})
	return err
}

// ListWebhooks lists the upstream's webhook registrations.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	resp, err := c.do(ctx, request{
		app:    "webhooks",
		method: http.MethodGet,
		path:   "/ocs/v2.php/apps/webhook_listeners/api/v1/webhooks?format=json",
		header: ocsHeader(),
	})
	if err != nil {
		return nil, err
	}
	return decodeOCS[[]Webhook](resp.Body)
}
