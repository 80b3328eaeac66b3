// client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scribe/internal/api"
	"scribe/internal/errors"
	"scribe/internal/parcel"
	"scribe/internal/session"
	"scribe/internal/txn"
)

// Client talks to a running scribe server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			// Commits run the git binary; allow for slow repositories.
			Timeout: time.Second * 60,
		},
	}
}

// Session operations
func (c *Client) OpenSession(ctx context.Context) (string, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions", nil, &resp, http.StatusCreated); err != nil {
		return "", err
	}
	return resp.Session, nil
}

func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil, http.StatusNoContent)
}

func (c *Client) ListSessions(ctx context.Context) ([]session.Record, error) {
	var records []session.Record
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &records, http.StatusOK); err != nil {
		return nil, err
	}
	return records, nil
}

// File operations
func (c *Client) Read(ctx context.Context, path string) (*api.ReadFileResponse, error) {
	var resp api.ReadFileResponse
	if err := c.do(ctx, http.MethodPost, "/api/files/read", api.ReadFileRequest{Path: path}, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Write(ctx context.Context, req api.WriteFileRequest) (*parcel.Result, error) {
	var res parcel.Result
	if err := c.do(ctx, http.MethodPost, "/api/files/write", req, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Edit(ctx context.Context, req api.EditFileRequest) (*parcel.Result, error) {
	var res parcel.Result
	if err := c.do(ctx, http.MethodPost, "/api/files/edit", req, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Remove(ctx context.Context, req api.RemoveFileRequest) (*parcel.Result, error) {
	var res parcel.Result
	if err := c.do(ctx, http.MethodPost, "/api/files/remove", req, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Chmod(ctx context.Context, req api.ChmodRequest) (*parcel.Result, error) {
	var res parcel.Result
	if err := c.do(ctx, http.MethodPost, "/api/files/chmod", req, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Recover(ctx context.Context) (txn.RecoveryReport, error) {
	var report txn.RecoveryReport
	err := c.do(ctx, http.MethodPost, "/api/recover", nil, &report, http.StatusOK)
	return report, err
}

func (c *Client) Tools(ctx context.Context) ([]api.Tool, error) {
	var tools []api.Tool
	if err := c.do(ctx, http.MethodGet, "/api/tools", nil, &tools, http.StatusOK); err != nil {
		return nil, err
	}
	return tools, nil
}

// Close is a no-op; the server owns the working tree.
func (c *Client) Close() error {
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, want int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns an error body back into the typed error the server
// returned.
func decodeError(resp *http.Response) error {
	var body struct {
		Error *errors.Error `json:"error"`
		Cause string        `json:"cause"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == nil {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	if body.Cause != "" {
		body.Error.Cause = stderrors.New(body.Cause)
	}
	return body.Error
}
