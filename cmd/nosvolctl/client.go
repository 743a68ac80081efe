package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"nithronos/nosvol/internal/reconcile"
	"nithronos/nosvol/internal/topology"
)

// APIClient talks to the nosvold HTTP API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is the decoded error envelope.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("unexpected status: %d", e.Status)
	}
	return fmt.Sprintf("API error %s: %s", e.Code, e.Message)
}

func (c *APIClient) doRequest(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env struct {
			Error APIError `json:"error"`
		}
		_ = json.Unmarshal(respBody, &env)
		env.Error.Status = resp.StatusCode
		return &env.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// IntentResult is what every state-changing call returns.
type IntentResult struct {
	ID          string                 `json:"id"`
	Correlation string                 `json:"correlationId"`
	State       reconcile.Snapshot     `json:"state"`
	Diagnostics []reconcile.Diagnostic `json:"diagnostics"`
}

func (c *APIClient) intent(method, path string, body any) (*IntentResult, error) {
	var res IntentResult
	if err := c.doRequest(method, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func volumePath(id, suffix string) string {
	return "/api/v1/volumes/" + url.PathEscape(id) + suffix
}

func (c *APIClient) getState() (*reconcile.Snapshot, error) {
	var snap reconcile.Snapshot
	if err := c.doRequest("GET", "/api/v1/state", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *APIClient) listPresets() ([]string, error) {
	var res struct {
		Presets []string `json:"presets"`
	}
	if err := c.doRequest("GET", "/api/v1/topology/presets", nil, &res); err != nil {
		return nil, err
	}
	return res.Presets, nil
}

func (c *APIClient) breakdown(id string) (*topology.Breakdown, error) {
	var b topology.Breakdown
	if err := c.doRequest("GET", volumePath(id, "/breakdown"), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *APIClient) createDraft(id, name string) (*IntentResult, error) {
	return c.intent("POST", "/api/v1/volumes", map[string]string{"id": id, "name": name})
}

func (c *APIClient) renameDraft(id, name string) (*IntentResult, error) {
	return c.intent("PATCH", volumePath(id, ""), map[string]string{"name": name})
}

func (c *APIClient) revertDraft(id string) (*IntentResult, error) {
	return c.intent("DELETE", volumePath(id, ""), nil)
}

func (c *APIClient) selectDisk(id, path string, selected bool) (*IntentResult, error) {
	op := "/disks/select"
	if !selected {
		op = "/disks/deselect"
	}
	return c.intent("POST", volumePath(id, op), map[string]string{"path": path})
}

func (c *APIClient) applyPreset(id, name string) (*IntentResult, error) {
	return c.intent("POST", volumePath(id, "/preset"), map[string]string{"name": name})
}

func (c *APIClient) editVdev(id string, purpose topology.Purpose, op string, index int, path string, typ topology.VdevType) (*IntentResult, error) {
	body := map[string]any{"index": index}
	if path != "" {
		body["path"] = path
	}
	if typ != "" {
		body["type"] = typ
	}
	return c.intent("POST", volumePath(id, "/vdevs/"+url.PathEscape(string(purpose))+"/"+op), body)
}

func (c *APIClient) submit(id string) (*IntentResult, error) {
	return c.intent("POST", volumePath(id, "/submit"), nil)
}

func (c *APIClient) focus(id string) (*IntentResult, error) {
	return c.intent("POST", volumePath(id, "/focus"), nil)
}

func (c *APIClient) intendDestroy(id string) (*IntentResult, error) {
	return c.intent("POST", volumePath(id, "/destroy"), nil)
}

func (c *APIClient) cancelDestroy() (*IntentResult, error) {
	return c.intent("POST", "/api/v1/destroy/cancel", nil)
}

func (c *APIClient) confirmDestroy() (*IntentResult, error) {
	return c.intent("POST", "/api/v1/destroy/confirm", nil)
}

func (c *APIClient) refresh(what string) (*IntentResult, error) {
	return c.intent("POST", "/api/v1/"+what+"/refresh", nil)
}
