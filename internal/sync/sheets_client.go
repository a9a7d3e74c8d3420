// Package sync provides the HTTP client for the remote sheet service.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kwhuang/shelfrank/internal/errors"
)

// SheetConfig holds remote sheet service connection configuration.
type SheetConfig struct {
	BaseURL string
	Token   string
}

// SheetClient implements RowStore against a JSON-over-HTTP spreadsheet
// service. It performs no retries of its own; retry policy belongs to the
// sync queue.
type SheetClient struct {
	config     *SheetConfig
	httpClient *http.Client
}

// NewSheetClient creates a new SheetClient.
func NewSheetClient(config *SheetConfig) *SheetClient {
	return &SheetClient{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

type rowsEnvelope struct {
	Rows []Row `json:"rows"`
}

// Write overwrites existing rows in place, addressed by Row.Index.
func (c *SheetClient) Write(ctx context.Context, sheetID string, rows []Row) error {
	return c.send(ctx, http.MethodPut, c.rowsURL(sheetID), rows)
}

// Append adds new rows after the last occupied row.
func (c *SheetClient) Append(ctx context.Context, sheetID string, rows []Row) error {
	return c.send(ctx, http.MethodPost, c.rowsURL(sheetID), rows)
}

// ReadAll returns every row of the sheet.
func (c *SheetClient) ReadAll(ctx context.Context, sheetID string) ([]Row, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.rowsURL(sheetID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSyncTransient, "sheet read request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var envelope rowsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, errors.Wrap(errors.ErrSyncFailed, "failed to decode sheet rows", err)
	}

	// The service may omit indices; they are positional.
	for i := range envelope.Rows {
		if envelope.Rows[i].Index == 0 {
			envelope.Rows[i].Index = i + 1
		}
	}

	return envelope.Rows, nil
}

func (c *SheetClient) rowsURL(sheetID string) string {
	return fmt.Sprintf("%s/sheets/%s/rows", c.config.BaseURL, url.PathEscape(sheetID))
}

func (c *SheetClient) send(ctx context.Context, method, rawURL string, rows []Row) error {
	body, err := json.Marshal(rowsEnvelope{Rows: rows})
	if err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "failed to encode rows", err)
	}

	req, err := c.newRequest(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrSyncTransient, "sheet write request failed", err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp)
}

func (c *SheetClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSyncFailed, "failed to build sheet request", err)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	return req, nil
}

// classifyStatus maps an HTTP response to the engine's error taxonomy.
// 401/403 are non-retryable auth failures; 5xx are transient.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Newf(errors.ErrSyncAuthFailed, "sheet service rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return errors.New(errors.ErrRemoteNotFound, "sheet not found")
	case resp.StatusCode >= 500:
		return errors.Newf(errors.ErrSyncTransient, "sheet service unavailable (status %d)", resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf(errors.ErrSyncFailed, "sheet request failed with status %d: %s", resp.StatusCode, string(body))
	}
}
