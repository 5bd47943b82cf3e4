package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// postJSON sends body to url and returns the raw reply. A non-200 status
// becomes an *APIError whose message comes from errMessage when it can
// parse one.
func postJSON(ctx context.Context, hc *http.Client, provider Provider, url string, headers map[string]string, body any, errMessage func([]byte) string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := ""
		if errMessage != nil {
			msg = errMessage(data)
		}
		if msg == "" {
			msg = string(data)
		}
		return nil, &APIError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
	}
	return data, nil
}
