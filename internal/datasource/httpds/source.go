package httpds

import (
	"context"
	"io"
	"net/http"
)

// Source downloads a single URL. Each Open issues a fresh GET.
type Source struct {
	client  *Client
	url     string
	headers http.Header
}

// NewSource returns a Source for url using client.
func NewSource(client *Client, url string, headers http.Header) *Source {
	return &Source{client: client, url: url, headers: headers}
}

// Open performs the GET and returns the response body for streaming.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url, s.headers)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
