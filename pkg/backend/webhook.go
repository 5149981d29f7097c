package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kronktech/sully/pkg/action"
)

// Webhook posts actions as JSON to an external URL. A non-2xx answer is a
// delivery failure.
type Webhook struct {
	URL        string
	HTTPClient *http.Client
}

var _ action.Webhook = (*Webhook)(nil)

func (w *Webhook) Forward(ctx context.Context, a action.DetectedAction) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("webhook: encode action: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	hc := w.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Method: http.MethodPost, Path: w.URL, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
