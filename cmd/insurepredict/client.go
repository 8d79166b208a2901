package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kalambet/insurepredict/internal/config"
	"github.com/kalambet/insurepredict/internal/schema"
)

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// Remote predictions can take as long as the predictor timeout.
	timeout := cfg.Predict.TimeoutDuration() + 30*time.Second
	return &apiClient{
		baseURL:    serverURL(cfg),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// sessionView is the client-side shape of a session snapshot.
type sessionView struct {
	ID          string       `json:"id"`
	Schema      string       `json:"schema"`
	State       string       `json:"state"`
	FileName    string       `json:"file_name"`
	Rows        []schema.Row `json:"rows"`
	Predicted   []schema.Row `json:"predicted"`
	Seen        int          `json:"seen"`
	HasResponse bool         `json:"has_response"`
	Error       string       `json:"error"`
	Warning     string       `json:"warning"`
}

// displayed mirrors the server rule: predictions replace the preview
// once they exist.
func (v sessionView) displayed() []schema.Row {
	if len(v.Predicted) > 0 {
		return v.Predicted
	}
	return v.Rows
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is insurepredict serve running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	if body == nil {
		return c.do(ctx, http.MethodPost, path, "", nil)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(data))
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, "", nil)
}

// upload posts the file at filePath as the multipart "file" part.
func (c *apiClient) upload(ctx context.Context, path, filePath string) (*http.Response, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, path, mw.FormDataContentType(), &buf)
}

func (c *apiClient) createSession(ctx context.Context) (string, error) {
	resp, err := c.post(ctx, "/sessions", nil)
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
