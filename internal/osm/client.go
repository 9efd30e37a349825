package osm

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
	"sync/atomic"
	"time"
)

const (
	defaultTimeout = 10 * time.Second

	// maxBodySize caps how much of a response is read.
	maxBodySize = 1 << 20

	// maxErrorBody caps how much of a failed response ends up in an Error.
	maxErrorBody = 256
)

// Config configures a Client.
type Config struct {
	// BaseURL is the OSM service root, e.g. "http://osm.local:8000".
	BaseURL string

	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration

	// HTTPClient overrides the underlying client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to the OSM HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	closed     atomic.Bool
}

// NewClient creates a Client for the service at cfg.BaseURL.
//
// Returns:
//   - *Client: Ready-to-use client
//   - error: If BaseURL is empty or not an absolute http(s) URL
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("osm: base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("osm: parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("osm: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("osm: base url has no host")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HealthCheck reports whether OSM answers its health endpoint with 2xx.
//
// A non-2xx answer is reported as unhealthy without an error. An error is
// returned only when no answer was received.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	const op = "health check"

	_, status, err := c.do(ctx, op, http.MethodGet, "/health", nil)
	if err != nil {
		var oe *Error
		if errors.As(err, &oe) && oe.StatusCode != 0 {
			return false, nil
		}
		return false, err
	}
	return status >= 200 && status < 300, nil
}

// ListDevices returns every device OSM manages.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	const op = "list devices"

	body, _, err := c.do(ctx, op, http.MethodGet, "/devices", nil)
	if err != nil {
		return nil, err
	}

	var devices []Device
	if err := json.Unmarshal(body, &devices); err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	for i, d := range devices {
		if d.Name == "" {
			return nil, &Error{Op: op, Err: fmt.Errorf("device %d has no name", i)}
		}
	}
	return devices, nil
}

// GetDevice fetches a full snapshot of the named device.
func (c *Client) GetDevice(ctx context.Context, name string) (DeviceState, error) {
	const op = "get device"

	body, _, err := c.do(ctx, op, http.MethodGet, "/devices/"+url.PathEscape(name), nil)
	if err != nil {
		return DeviceState{}, err
	}

	state, err := decodeDevice(body, name)
	if err != nil {
		return DeviceState{}, &Error{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return state, nil
}

// GetCoreState fetches a full snapshot of the system-wide state.
func (c *Client) GetCoreState(ctx context.Context) (CoreState, error) {
	const op = "get core state"

	body, _, err := c.do(ctx, op, http.MethodGet, "/core", nil)
	if err != nil {
		return CoreState{}, err
	}

	state, err := decodeCore(body)
	if err != nil {
		return CoreState{}, &Error{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return state, nil
}

// SetDeviceMaxConsumption sets a device's maximum consumption in watts.
func (c *Client) SetDeviceMaxConsumption(ctx context.Context, name string, value float64) error {
	return c.setDevice(ctx, name, FieldMaxConsumption, value)
}

// SetDeviceExpectedConsumption sets a device's expected consumption in watts.
func (c *Client) SetDeviceExpectedConsumption(ctx context.Context, name string, value float64) error {
	return c.setDevice(ctx, name, FieldExpectedConsumption, value)
}

// SetDeviceCooldown sets a device's cooldown in seconds.
func (c *Client) SetDeviceCooldown(ctx context.Context, name string, seconds int) error {
	return c.setDevice(ctx, name, FieldCooldown, seconds)
}

// SetGridMargin sets the grid margin in watts.
func (c *Client) SetGridMargin(ctx context.Context, value float64) error {
	return c.setCore(ctx, FieldGridMargin, value)
}

// SetSurplusMargin sets the surplus margin in watts.
func (c *Client) SetSurplusMargin(ctx context.Context, value float64) error {
	return c.setCore(ctx, FieldSurplusMargin, value)
}

// SetIdlePower sets the idle power in watts.
func (c *Client) SetIdlePower(ctx context.Context, value float64) error {
	return c.setCore(ctx, FieldIdlePower, value)
}

// Close releases idle connections. Calling Close twice returns ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) setDevice(ctx context.Context, name, field string, value any) error {
	path := "/devices/" + url.PathEscape(name) + "/" + field
	_, _, err := c.do(ctx, "set device "+field, http.MethodPut, path, setValue{Value: value})
	return err
}

func (c *Client) setCore(ctx context.Context, field string, value float64) error {
	_, _, err := c.do(ctx, "set "+field, http.MethodPut, "/core/"+field, setValue{Value: value})
	return err
}

// do issues one request and returns the body of a 2xx response.
// Every failure is returned as an *Error.
func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, int, error) {
	if c.closed.Load() {
		return nil, 0, &Error{Op: op, Err: ErrClosed}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, &Error{Op: op, Err: fmt.Errorf("encoding request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, &Error{Op: op, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, &Error{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, resp.StatusCode, &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       msg,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	return data, resp.StatusCode, nil
}
