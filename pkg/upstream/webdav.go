package upstream

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FileInfo is one WebDAV file entry with the properties the bridge tracks.
type FileInfo struct {
	Path         string
	FileID       string
	ETag         string
	ContentType  string
	Size         int64
	LastModified time.Time
}

const davProps = `<?xml version="1.0" encoding="UTF-8"?>
<d:propfind xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:prop>
    <oc:fileid/>
    <d:getetag/>
    <d:getcontenttype/>
    <d:getcontentlength/>
    <d:getlastmodified/>
  </d:prop>
</d:propfind>`

// tagSearchBody builds the oc:filter-files REPORT for files carrying one
// system tag, requesting the same property set as davProps.
func tagSearchBody(tagID string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<oc:filter-files xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:prop>
    <oc:fileid/>
    <d:getetag/>
    <d:getcontenttype/>
    <d:getcontentlength/>
    <d:getlastmodified/>
  </d:prop>
  <oc:filter-rules>
    <oc:systemtag>%s</oc:systemtag>
  </oc:filter-rules>
</oc:filter-files>`, tagID)
}

// multistatus mirrors the subset of the WebDAV multistatus response the
// bridge reads.
type multistatus struct {
	XMLName   xml.Name   `xml:"multistatus"`
	Responses []davEntry `xml:"response"`
}

type davEntry struct {
	Href     string `xml:"href"`
	Propstat []struct {
		Status string `xml:"status"`
		Prop   struct {
			FileID        string `xml:"fileid"`
			ETag          string `xml:"getetag"`
			ContentType   string `xml:"getcontenttype"`
			ContentLength int64  `xml:"getcontentlength"`
			LastModified  string `xml:"getlastmodified"`
		} `xml:"prop"`
	} `xml:"propstat"`
}

func (e *davEntry) toFileInfo() *FileInfo {
	for _, ps := range e.Propstat {
		if !strings.Contains(ps.Status, "200") {
			continue
		}
		info := &FileInfo{
			Path:        e.Href,
			FileID:      ps.Prop.FileID,
			ETag:        strings.Trim(ps.Prop.ETag, `"`),
			ContentType: ps.Prop.ContentType,
			Size:        ps.Prop.ContentLength,
		}
		if t, err := time.Parse(time.RFC1123, ps.Prop.LastModified); err == nil {
			info.LastModified = t
		}
		return info
	}
	return nil
}

func parseMultistatus(data []byte) ([]FileInfo, error) {
	var ms multistatus
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, fmt.Errorf("parsing WebDAV multistatus: %w", err)
	}
	var files []FileInfo
	for i := range ms.Responses {
		if info := ms.Responses[i].toFileInfo(); info != nil && info.FileID != "" {
			files = append(files, *info)
		}
	}
	return files, nil
}

// davFilesPath returns the DAV root for a user's files.
func (c *Client) davFilesPath(user string) string {
	return "/remote.php/dav/files/" + url.PathEscape(user)
}

// ListFiles runs a depth-limited PROPFIND under the given directory.
func (c *Client) ListFiles(ctx context.Context, user, dir string) ([]FileInfo, error) {
	header := http.Header{}
	header.Set("Depth", "1")
	header.Set("Content-Type", "application/xml")

	resp, err := c.do(ctx, request{
		app:    "webdav",
		method: "PROPFIND",
		path:   c.davFilesPath(user) + "/" + strings.TrimPrefix(dir, "/"),
		header: header,
		body:   []byte(davProps),
	})
	if err != nil {
		return nil, err
	}
	return parseMultistatus(resp.Body)
}

// SearchByTag returns the user's files carrying the given system tag id.
func (c *Client) SearchByTag(ctx context.Context, user, tagID string) ([]FileInfo, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/xml")

	resp, err := c.do(ctx, request{
		app:    "webdav",
		method: "REPORT",
		path:   c.davFilesPath(user),
		header: header,
		body:   []byte(tagSearchBody(tagID)),
	})
	if err != nil {
		return nil, err
	}
	return parseMultistatus(resp.Body)
}

// FetchFile downloads one file's content by DAV path.
func (c *Client) FetchFile(ctx context.Context, user, path string) ([]byte, string, error) {
	resp, err := c.do(ctx, request{
		app:    "webdav",
		method: http.MethodGet,
		path:   c.davFilesPath(user) + "/" + strings.TrimPrefix(path, "/"),
	})
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// FetchByHref downloads a file by the href returned in a multistatus
// response, which is already server-rooted.
func (c *Client) FetchByHref(ctx context.Context, href string) ([]byte, string, error) {
	resp, err := c.do(ctx, request{
		app:    "webdav",
		method: http.MethodGet,
		path:   href,
	})
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
