package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// Client issues requests through the pipeline transport and reports every
// failure as a *ClassifiedError.
type Client struct {
	http *http.Client
}

// NewClient wraps transport in an http.Client.
func NewClient(transport http.RoundTripper) *Client {
	return &Client{http: &http.Client{Transport: transport}}
}

// HTTPClient returns the underlying client.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Do sends req. Responses with an error status are closed and returned as
// a *ClassifiedError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if ce := Classify(resp, nil); ce != nil {
		resp.Body.Close()
		return nil, ce
	}
	return resp, nil
}

// DoJSON sends in as the JSON request body, when not nil, and decodes the
// response into out, when not nil.
func (c *Client) DoJSON(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	var raw []byte
	if in != nil {
		var err error
		raw, err = json.Marshal(in)
		if err != nil {
			return newClassifiedError(KindUnknown, 0, "", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return newClassifiedError(KindUnknown, 0, "", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return newClassifiedError(KindUnknown, resp.StatusCode, "Malformed response body", err)
	}
	return nil
}
