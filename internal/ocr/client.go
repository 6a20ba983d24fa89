// Package ocr talks to the remote text-recognition service.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/logger"
)

const (
	// DefaultTimeout bounds one OCR round trip.
	DefaultTimeout = 60 * time.Second

	ocrPath    = "/ocr"
	healthPath = "/health"

	// maxResponseBytes caps how much of an OCR response is read into memory.
	maxResponseBytes = 64 << 20
)

// DefaultResultPaths are tried in order to unwrap the recognized segments
// from an object response.
var DefaultResultPaths = []string{"$.texts", "$.result"}

// Config configures a Client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	ResultPaths []string
}

// Client sends documents to the OCR service. One Client is created per
// process and shared by all invocations; call Close at shutdown.
type Client struct {
	baseURL     string
	timeout     time.Duration
	resultPaths []string
	httpClient  *http.Client
}

// NewClient creates a new OCR client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	paths := cfg.ResultPaths
	if len(paths) == 0 {
		paths = DefaultResultPaths
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     timeout,
		resultPaths: paths,
		httpClient: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
	}
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// SendDocument uploads the file at path and returns the recognized segments.
func (c *Client) SendDocument(ctx context.Context, path string) (*Result, error) {
	const op = "ocr.SendDocument"
	log := logger.FromContext(ctx)

	body, contentType, err := buildUpload(path)
	if err != nil {
		return nil, fmt.Errorf("SendDocument: preparing upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ocrPath, body)
	if err != nil {
		return nil, fmt.Errorf("SendDocument: creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	raw, status, err := c.do(req, op)
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &domain.MalformedResponseError{Op: op, Err: err}
	}

	// The service reports some failures as 2xx with an error field.
	if obj, ok := payload.(map[string]any); ok {
		if msg, ok := obj["error"].(string); ok && msg != "" {
			return nil, &domain.ServiceError{Op: op, Status: status, Body: msg}
		}
	}

	result, err := parseResult(payload, c.resultPaths)
	if err != nil {
		// Unknown shapes go downstream as raw JSON.
		log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("unrecognized OCR result shape, passing it through raw")
	}

	log.Debug().
		Str("file", filepath.Base(path)).
		Int("segments", len(result.Segments)).
		Dur("duration", time.Since(start)).
		Msg("OCR completed")

	return result, nil
}

// Health queries the service health endpoint and returns its status string.
func (c *Client) Health(ctx context.Context) (string, error) {
	const op = "ocr.Health"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return "", fmt.Errorf("Health: creating request: %w", err)
	}

	raw, _, err := c.do(req, op)
	if err != nil {
		return "", err
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &domain.MalformedResponseError{Op: op, Err: err}
	}
	return resp.Status, nil
}

// do executes req and classifies failures. It returns the body of a 2xx response.
func (c *Client) do(req *http.Request, op string) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, &domain.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &domain.ServiceError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, resp.StatusCode, nil
}

// buildUpload encodes the file as a multipart body with a single "file" part.
func buildUpload(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	name := filepath.Base(path)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", contentTypeFor(name))

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".pdf" {
		return "application/pdf"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// unwrap returns the value under the first matching result path, or v itself.
func unwrap(v any, paths []string) any {
	if _, ok := v.(map[string]any); !ok {
		return v
	}
	for _, path := range paths {
		got, err := jsonpath.Get(path, v)
		if err != nil || got == nil {
			continue
		}
		return got
	}
	return v
}
