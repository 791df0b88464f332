package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxResponseBodyBytes = 4 << 20

type jsonResponse struct {
	statusCode int
	body       []byte
}

func (response jsonResponse) successful() bool {
	return response.statusCode >= 200 && response.statusCode < 300
}

func (response jsonResponse) decode(target any) error {
	if target == nil || len(bytes.TrimSpace(response.body)) == 0 {
		return nil
	}
	return json.Unmarshal(response.body, target)
}

func newJSONRequest(ctx context.Context, method string, endpoint string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("session.encode: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return request, nil
}

func sendJSON(client *http.Client, request *http.Request) (jsonResponse, error) {
	response, err := client.Do(request)
	if err != nil {
		return jsonResponse{}, err
	}
	defer func() { _ = response.Body.Close() }()
	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	if readErr != nil {
		return jsonResponse{}, readErr
	}
	return jsonResponse{statusCode: response.StatusCode, body: body}, nil
}

// detailFromBody extracts the "detail" member of an error payload when present.
func detailFromBody(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Detail
}
