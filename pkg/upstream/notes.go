package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

const notesAPIPath = "/index.php/apps/notes/api/v1/notes"

// Note is one entry from the Notes app.
type Note struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Content  string `json:"content"`
	Modified int64  `json:"modified"`
	Favorite bool   `json:"favorite"`
	ETag     string `json:"etag,omitempty"`
}

func jsonHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h
}

// ListNotes returns all notes, optionally filtered by category.
func (c *Client) ListNotes(ctx context.Context, category string) ([]Note, error) {
	path := notesAPIPath
	if category != "" {
		path += "?category=" + category
	}
	resp, err := c.do(ctx, request{
		app:    "notes",
		method: http.MethodGet,
		path:   path,
		header: jsonHeader(),
	})
	if err != nil {
		return nil, err
	}
	var notes []Note
	if err := json.Unmarshal(resp.Body, &notes); err != nil {
		return nil, fmt.Errorf("decoding notes list: %w", err)
	}
	return notes, nil
}

// GetNote fetches one note by id.
func (c *Client) GetNote(ctx context.Context, id int64) (*Note, error) {
	resp, err := c.do(ctx, request{
		app:    "notes",
		method: http.MethodGet,
		path:   notesAPIPath + "/" + strconv.FormatInt(id, 10),
		header: jsonHeader(),
	})
	if err != nil {
		return nil, err
	}
	var note Note
	if err := json.Unmarshal(resp.Body, &note); err != nil {
		return nil, fmt.Errorf("decoding note: %w", err)
	}
	return &note, nil
}

// CreateNote creates a note and returns the stored version.
func (c *Client) CreateNote(ctx context.Context, title, content, category string) (*Note, error) {
	payload, err := json.Marshal(map[string]string{
		"title":    title,
		"content":  content,
		"category": category,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		app:    "notes",
		method: http.MethodPost,
		path:   notesAPIPath,
		header: jsonHeader(),
		body:   payload,
	})
	if err != nil {
		return nil, err
	}
	var note Note
	if err := json.Unmarshal(resp.Body, &note); err != nil {
		return nil, fmt.Errorf("decoding created note: %w", err)
	}
	return &note, nil
}

// UpdateNote applies a partial update. Only non-nil fields are sent.
func (c *Client) UpdateNote(ctx context.Context, id int64, title, content, category *string) (*Note, error) {
	fields := map[string]string{}
	if title != nil {
		fields["title"] = *title
	}
	if content != nil {
		fields["content"] = *content
	}
	if category != nil {
		fields["category"] = *category
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		app:    "notes",
		method: http.MethodPut,
		path:   notesAPIPath + "/" + strconv.FormatInt(id, 10),
		header: jsonHeader(),
		body:   payload,
	})
	if err != nil {
		return nil, err
	}
	var note Note
	if err := json.Unmarshal(resp.Body, &note); err != nil {
		return nil, fmt.Errorf("decoding updated note: %w", err)
	}
	return &note, nil
}

// DeleteNote removes a note by id.
func (c *Client) DeleteNote(ctx context.Context, id int64) error {
	_, err := c.do(ctx, request{
		app:    "notes",
		method: http.MethodDelete,
		path:   notesAPIPath + "/" + strconv.FormatInt(id, 10),
		header: jsonHeader(),
	})
	return err
}
