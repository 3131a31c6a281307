package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ocsBody(data string) string {
	return `{"ocs":{"meta":{"status":"ok","statuscode":200,"message":"OK"},"data":` + data + `}}`
}

func TestStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status.php", r.URL.Path)
		_, _ = w.Write([]byte(`{"installed":true,"maintenance":false,"version":"29.0.1.1","versionstring":"29.0.1"}`))
	}))
	t.Cleanup(srv.Close)

	status, err := New(srv.URL, Anonymous{}).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Installed)
	assert.False(t, status.Maintenance)
	assert.Equal(t, "29.0.1", status.VersionString)
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.Header.Get("OCS-APIRequest"))
		_, _ = w.Write([]byte(ocsBody(`{"capabilities":{"notes":{"version":"4.9"}}}`)))
	}))
	t.Cleanup(srv.Close)

	caps, err := New(srv.URL, BasicAuth{Username: "u", Password: "p"}).Capabilities(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(caps), `"notes"`)
}

func TestProvisionAppPassword(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ocs/v2.php/core/getapppassword", r.URL.Path)
			_, _ = w.Write([]byte(ocsBody(`{"apppassword":"minted-pass"}`)))
		}))
		t.Cleanup(srv.Close)

		pass, err := New(srv.URL, Bearer{Token: "tok"}).ProvisionAppPassword(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "minted-pass", pass)
	})

	t.Run("empty password rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(ocsBody(`{"apppassword":""}`)))
		}))
		t.Cleanup(srv.Close)

		_, err := New(srv.URL, Bearer{Token: "tok"}).ProvisionAppPassword(context.Background())
		assert.Error(t, err)
	})
}

func TestRegisterWebhook(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "POST", r.PostForm.Get("httpMethod"))
		assert.Equal(t, "https://bridge.example.com/webhooks/incoming", r.PostForm.Get("uri"))
		assert.Equal(t, `OCP\Files\Events\Node\NodeWrittenEvent`, r.PostForm.Get("event"))
		_, _ = w.Write([]byte(ocsBody(`{"id":42,"uri":"https://bridge.example.com/webhooks/incoming"}`)))
	}))
	t.Cleanup(srv.Close)

	id, err := New(srv.URL, BasicAuth{Username: "admin", Password: "p"}).RegisterWebhook(
		context.Background(),
		`OCP\Files\Events\Node\NodeWrittenEvent`,
		"https://bridge.example.com/webhooks/incoming")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestListWebhooks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(ocsBody(`[{"id":1,"uri":"https://a"},{"id":2,"uri":"https://b"}]`)))
	}))
	t.Cleanup(srv.Close)

	hooks, err := New(srv.URL, BasicAuth{Username: "admin", Password: "p"}).ListWebhooks(context.Background())
	require.NoError(t, err)
	require.Len(t, hooks, 2)
	assert.Equal(t, int64(1), hooks[0].ID)
}

func TestDecodeOCS_Invalid(t *testing.T) {
	t.Parallel()
	_, err := decodeOCS[[]Webhook]([]byte("<html>not json</html>"))
	assert.Error(t, err)
}
