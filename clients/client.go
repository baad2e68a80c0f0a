package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError is returned when a collaborator answers with a non-2xx status.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s service returned %d", e.Service, e.StatusCode)
}

// NotFound reports whether the collaborator said the entity does not exist.
func (e *StatusError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// ServiceKeyHeader carries the shared key that identifies this service to
// its collaborators.
const ServiceKeyHeader = "X-ADMIN-SERVICE-API-KEY"

type baseClient struct {
	service    string
	baseURL    string
	serviceKey string
	client     *http.Client
}

func newBaseClient(service, baseURL, serviceKey string, timeout time.Duration) baseClient {
	return baseClient{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: timeout},
	}
}

// getJSON performs a GET and decodes the body into out. The service key is
// sent on every call; authHeader, when set, is forwarded as Authorization.
func (b baseClient) getJSON(ctx context.Context, path, authHeader string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if b.serviceKey != "" {
		req.Header.Set(ServiceKeyHeader, b.serviceKey)
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s service unreachable: %w", b.service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Service: b.service, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", b.service, err)
	}
	return nil
}
