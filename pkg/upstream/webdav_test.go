package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMultistatus = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:response>
    <d:href>/remote.php/dav/files/alice/docs/readme.md</d:href>
    <d:propstat>
      <d:prop>
        <oc:fileid>101</oc:fileid>
        <d:getetag>"abc123"</d:getetag>
        <d:getcontenttype>text/markdown</d:getcontenttype>
        <d:getcontentlength>2048</d:getcontentlength>
        <d:getlastmodified>Mon, 02 Jan 2006 15:04:05 MST</d:getlastmodified>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/files/alice/docs/</d:href>
    <d:propstat>
      <d:prop><oc:fileid></oc:fileid></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/files/alice/docs/broken.bin</d:href>
    <d:propstat>
      <d:prop><d:getetag/></d:prop>
      <d:status>HTTP/1.1 404 Not Found</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func TestParseMultistatus(t *testing.T) {
	t.Parallel()

	files, err := parseMultistatus([]byte(sampleMultistatus))
	require.NoError(t, err)
	require.Len(t, files, 1, "entries without a fileid or a 200 propstat are dropped")

	f := files[0]
	assert.Equal(t, "/remote.php/dav/files/alice/docs/readme.md", f.Path)
	assert.Equal(t, "101", f.FileID)
	assert.Equal(t, "abc123", f.ETag, "surrounding quotes are stripped")
	assert.Equal(t, "text/markdown", f.ContentType)
	assert.Equal(t, int64(2048), f.Size)
	assert.Equal(t, 2006, f.LastModified.Year())
	assert.Equal(t, time.January, f.LastModified.Month())
}

func TestParseMultistatus_Invalid(t *testing.T) {
	t.Parallel()
	_, err := parseMultistatus([]byte("not xml at all <<"))
	assert.Error(t, err)
}

func TestListFiles(t *testing.T) {
	t.Parallel()

	var (
		gotMethod string
		gotPath   string
		gotDepth  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotDepth = r.Header.Get("Depth")
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(sampleMultistatus))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, BasicAuth{Username: "alice", Password: "pw"})
	files, err := c.ListFiles(context.Background(), "alice", "docs")
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.Equal(t, "PROPFIND", gotMethod)
	assert.Equal(t, "/remote.php/dav/files/alice/docs", gotPath)
	assert.Equal(t, "1", gotDepth)
}

func TestSearchByTag(t *testing.T) {
	t.Parallel()

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		assert.Equal(t, "REPORT", r.Method)
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(sampleMultistatus))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, BasicAuth{Username: "alice", Password: "pw"})
	files, err := c.SearchByTag(context.Background(), "alice", "17")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, gotBody, "<oc:systemtag>17</oc:systemtag>")
}

func TestFetchByHref(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/remote.php/dav/files/alice/docs/readme.md", r.URL.Path)
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# hello"))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, BasicAuth{Username: "alice", Password: "pw"})
	data, contentType, err := c.FetchByHref(context.Background(), "/remote.php/dav/files/alice/docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "# hello", string(data))
	assert.Equal(t, "text/markdown", contentType)
}

func TestDAVFilesPath_EscapesUser(t *testing.T) {
	t.Parallel()
	c := New("https://cloud.example.com", Anonymous{})
	assert.Equal(t, "/remote.php/dav/files/alice%20b", c.davFilesPath("alice b"))
}
