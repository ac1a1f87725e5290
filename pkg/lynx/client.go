package lynx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://lynx.iotopen.se"

	DefaultTimeout = 10 * time.Second

	apiKeyHeader = "X-API-Key"

	maxErrorBody = 512
)

// Client is the IoT Open Lynx API v2 surface used by the bridge.
type Client interface {
	ValidateAccess(ctx context.Context, installationID int64) error
	GetInstallation(ctx context.Context, installationID int64) (*Installation, error)

	ListFunctions(ctx context.Context, installationID int64) ([]Function, error)
	GetFunction(ctx context.Context, installationID, functionID int64) (*Function, error)
	CreateFunction(ctx context.Context, installationID int64, funcType string, meta Meta) (*Function, error)
	UpdateFunction(ctx context.Context, fn Function) (*Function, error)
	DeleteFunction(ctx context.Context, installationID, functionID int64) error
	SetFunctionMeta(ctx context.Context, installationID, functionID int64, key string, value MetaValue, silent bool) (*MetaValue, error)

	ListDevices(ctx context.Context, installationID int64) ([]Device, error)
	GetDevice(ctx context.Context, installationID, deviceID int64) (*Device, error)
	CreateDevice(ctx context.Context, installationID int64, devType string, meta Meta) (*Device, error)
	UpdateDevice(ctx context.Context, dev Device) (*Device, error)
	DeleteDevice(ctx context.Context, installationID, deviceID int64) error
	SetDeviceMeta(ctx context.Context, installationID, deviceID int64, key string, value MetaValue, silent bool) (*MetaValue, error)

	Status(ctx context.Context, installationID int64, topics []string) ([]Status, error)
}

type Instrument struct {
	RecordTime func(op string, duration time.Duration, err error)
}

type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	instrument []Instrument
}

func CreateHTTPClient(baseURL string, apiKey string, timeout time.Duration,
	logger *zap.Logger, instrument []Instrument) (*HTTPClient, error) {

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("lynx: invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("lynx: invalid base url scheme %q", u.Scheme)
	}
	if apiKey == "" {
		return nil, errors.New("lynx: api key must not be empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(u.String(), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		instrument: instrument,
	}, nil
}

func (c *HTTPClient) ValidateAccess(ctx context.Context, installationID int64) error {
	_, err := c.ListFunctions(ctx, installationID)
	return err
}

func (c *HTTPClient) GetInstallation(ctx context.Context, installationID int64) (*Installation, error) {
	var inst Installation
	err := c.doJSON(ctx, "GetInstallation", http.MethodGet,
		fmt.Sprintf("/api/v2/installationinfo/%d", installationID), nil, nil, &inst)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (c *HTTPClient) ListFunctions(ctx context.Context, installationID int64) ([]Function, error) {
	var fns []Function
	err := c.doJSON(ctx, "ListFunctions", http.MethodGet,
		fmt.Sprintf("/api/v2/functionx/%d", installationID), nil, nil, &fns)
	if err != nil {
		return nil, err
	}
	return fns, nil
}

func (c *HTTPClient) GetFunction(ctx context.Context, installationID, functionID int64) (*Function, error) {
	var fn Function
	err := c.doJSON(ctx, "GetFunction", http.MethodGet,
		fmt.Sprintf("/api/v2/functionx/%d/%d", installationID, functionID), nil, nil, &fn)
	if err != nil {
		return nil, err
	}
	return &fn, nil
}

func (c *HTTPClient) CreateFunction(ctx context.Context, installationID int64, funcType string, meta Meta) (*Function, error) {
	if meta == nil {
		meta = Meta{}
	}
	body := struct {
		InstallationID int64  `json:"installation_id"`
		Type           string `json:"type"`
		Meta           Meta   `json:"meta"`
	}{installationID, funcType, meta}

	var fn Function
	err := c.doJSON(ctx, "CreateFunction", http.MethodPost,
		fmt.Sprintf("/api/v2/functionx/%d", installationID), nil, body, &fn)
	if err != nil {
		return nil, err
	}
	return &fn, nil
}

func (c *HTTPClient) UpdateFunction(ctx context.Context, fn Function) (*Function, error) {
	var updated Function
	err := c.doJSON(ctx, "UpdateFunction", http.MethodPut,
		fmt.Sprintf("/api/v2/functionx/%d/%d", fn.InstallationID, fn.ID), nil, fn, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteFunction tolerates empty and non-JSON response bodies; any 2xx is a
// success.
func (c *HTTPClient) DeleteFunction(ctx context.Context, installationID, functionID int64) error {
	return c.doJSON(ctx, "DeleteFunction", http.MethodDelete,
		fmt.Sprintf("/api/v2/functionx/%d/%d", installationID, functionID), nil, nil, nil)
}

func (c *HTTPClient) SetFunctionMeta(ctx context.Context, installationID, functionID int64,
	key string, value MetaValue, silent bool) (*MetaValue, error) {

	var out MetaValue
	err := c.doJSON(ctx, "SetFunctionMeta", http.MethodPut,
		fmt.Sprintf("/api/v2/functionx/%d/%d/meta/%s", installationID, functionID, url.PathEscape(key)),
		silentQuery(silent), value, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListDevices(ctx context.Context, installationID int64) ([]Device, error) {
	var devs []Device
	err := c.doJSON(ctx, "ListDevices", http.MethodGet,
		fmt.Sprintf("/api/v2/devicex/%d", installationID), nil, nil, &devs)
	if err != nil {
		return nil, err
	}
	return devs, nil
}

func (c *HTTPClient) GetDevice(ctx context.Context, installationID, deviceID int64) (*Device, error) {
	var dev Device
	err := c.doJSON(ctx, "GetDevice", http.MethodGet,
		fmt.Sprintf("/api/v2/devicex/%d/%d", installationID, deviceID), nil, nil, &dev)
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

func (c *HTTPClient) CreateDevice(ctx context.Context, installationID int64, devType string, meta Meta) (*Device, error) {
	if meta == nil {
		meta = Meta{}
	}
	body := struct {
		InstallationID int64  `json:"installation_id"`
		Type           string `json:"type"`
		Meta           Meta   `json:"meta"`
	}{installationID, devType, meta}

	var dev Device
	err := c.doJSON(ctx, "CreateDevice", http.MethodPost,
		fmt.Sprintf("/api/v2/devicex/%d", installationID), nil, body, &dev)
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

func (c *HTTPClient) UpdateDevice(ctx context.Context, dev Device) (*Device, error) {
	var updated Device
	err := c.doJSON(ctx, "UpdateDevice", http.MethodPut,
		fmt.Sprintf("/api/v2/devicex/%d/%d", dev.InstallationID, dev.ID), nil, dev, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *HTTPClient) DeleteDevice(ctx context.Context, installationID, deviceID int64) error {
	return c.doJSON(ctx, "DeleteDevice", http.MethodDelete,
		fmt.Sprintf("/api/v2/devicex/%d/%d", installationID, deviceID), nil, nil, nil)
}

func (c *HTTPClient) SetDeviceMeta(ctx context.Context, installationID, deviceID int64,
	key string, value MetaValue, silent bool) (*MetaValue, error) {

	var out MetaValue
	err := c.doJSON(ctx, "SetDeviceMeta", http.MethodPut,
		fmt.Sprintf("/api/v2/devicex/%d/%d/meta/%s", installationID, deviceID, url.PathEscape(key)),
		silentQuery(silent), value, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the latest samples for the given topics in one batched
// call. An empty topic list short-circuits without a request.
func (c *HTTPClient) Status(ctx context.Context, installationID int64, topics []string) ([]Status, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	query := url.Values{}
	query.Set("topics", strings.Join(topics, ","))

	var statuses []Status
	err := c.doJSON(ctx, "Status", http.MethodGet,
		fmt.Sprintf("/api/v2/status/%d", installationID), query, nil, &statuses)
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, op string, method string, path string,
	query url.Values, body any, out any) (err error) {

	defer recordTimer(op, c.instrument)(&err)

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("lynx: encode %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("lynx: build %s %s: %w", method, path, err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("lynx: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("lynx: read %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Debug("lynx api error", zap.String("method", method),
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       truncate(strings.TrimSpace(string(data)), maxErrorBody),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("lynx: decode %s %s: %w", method, path, err)
	}
	return nil
}

func silentQuery(silent bool) url.Values {
	if !silent {
		return nil
	}
	q := url.Values{}
	q.Set("silent", "true")
	return q
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func recordTimer(op string, instrument []Instrument) func(*error) {
	if instrument == nil {
		return func(*error) {}
	}

	start := time.Now()
	return func(errp *error) {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(op, duration, *errp)
		}
	}
}
