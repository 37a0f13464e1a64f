// Package directory fetches the employee roster from the directory service.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
)

// ErrDirectory wraps every roster failure.
var ErrDirectory = errors.New("directory error")

// Client lists employees over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a directory client with a 30s timeout.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Employees returns every active employee.
func (c *Client) Employees(ctx context.Context) ([]model.EmployeeRef, error) {
	url := fmt.Sprintf("%s/api/employees", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrDirectory, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get employees: %v", ErrDirectory, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrDirectory, resp.StatusCode, string(body))
	}

	var employees []model.EmployeeRef
	if err := json.NewDecoder(resp.Body).Decode(&employees); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrDirectory, err)
	}
	return employees, nil
}

// Static serves a fixed roster. Used by one-shot runs and tests.
type Static []model.EmployeeRef

func (s Static) Employees(context.Context) ([]model.EmployeeRef, error) {
	return append([]model.EmployeeRef(nil), s...), nil
}
