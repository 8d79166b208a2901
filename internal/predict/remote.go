package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/insurepredict/internal/config"
	"github.com/kalambet/insurepredict/internal/schema"
)

const (
	defaultTimeout  = 60 * time.Second
	predictPath     = "/predict-csv"
	maxResponseBody = 64 << 20
	maxErrorBody    = 512
)

var (
	errNoFile        = errors.New("no file to send")
	errNoPredictions = errors.New("response has no predictions")
)

// RequestError is returned for any failed call to the prediction service.
// StatusCode is zero when no HTTP response was received.
type RequestError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("prediction failed: HTTP %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("prediction failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("prediction failed: %v", e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Remote posts the original CSV to {baseURL}/predict-csv. Each call makes
// exactly one request.
type Remote struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemote creates a client for the service at baseURL. A timeout <= 0
// uses the default of 60s.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: slog.Default(),
	}
}

func (c *Remote) Mode() string { return config.ModeRemote }

func (c *Remote) Predict(ctx context.Context, req Request) (rows []schema.Row, err error) {
	start := time.Now()
	defer func() { observe(c.logger, c.Mode(), start, len(req.Rows), err) }()

	if len(req.File.Content) == 0 {
		return nil, &RequestError{Err: errNoFile}
	}

	body, contentType, err := encodeUpload(req.File)
	if err != nil {
		return nil, &RequestError{Err: fmt.Errorf("encoding upload: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+predictPath, body)
	if err != nil {
		return nil, &RequestError{Err: fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &RequestError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	results, err := decodeResults(raw)
	if err != nil {
		return nil, &RequestError{Err: fmt.Errorf("decoding response: %w", err)}
	}

	if len(results) != len(req.Rows) {
		c.logger.Debug("prediction count differs from preview",
			"results", len(results), "rows", len(req.Rows))
	}
	return Reconcile(req.Rows, results), nil
}

func encodeUpload(f Upload) (*bytes.Buffer, string, error) {
	name := f.Name
	if name == "" {
		name = "upload.csv"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Content); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// predictionEnvelope is the service's {"predictions": [...], "rows": n} body.
type predictionEnvelope struct {
	Predictions []map[string]json.RawMessage `json:"predictions"`
	Rows        *int                         `json:"rows,omitempty"`
}

// decodeResults accepts either the envelope or a bare array of result
// objects.
func decodeResults(raw []byte) ([]Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errNoPredictions
	}

	var objs []map[string]json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &objs); err != nil {
			return nil, err
		}
	} else {
		var env predictionEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		if env.Predictions == nil {
			return nil, errNoPredictions
		}
		objs = env.Predictions
	}

	results := make([]Result, 0, len(objs))
	for i, obj := range objs {
		r, err := resultFromObject(obj)
		if err != nil {
			return nil, fmt.Errorf("prediction %d: %w", i, err)
		}
		results = append(results, r)
	}
	return results, nil
}

func resultFromObject(obj map[string]json.RawMessage) (Result, error) {
	r := Result{Response: schema.NoResponse}

	if raw, ok := obj["id"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			r.ID = strings.TrimSpace(s)
		} else if string(raw) != "null" {
			r.ID = strings.TrimSpace(string(raw))
		}
	}

	raw, ok := obj["Response"]
	if !ok {
		raw, ok = obj["response"]
	}
	if ok {
		var n schema.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return Result{}, fmt.Errorf("response: %w", err)
		}
		r.Response = n
	}
	return r, nil
}
