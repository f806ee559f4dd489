package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/undarez/synexa-sub003/internal/domain"
)

// Client talks to a Philips Hue bridge over its local HTTP API. One client
// serves any number of devices; the bridge address and application key come
// from the device record.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send writes the converted light state to the bridge. A non-nil error covers
// missing configuration, transport failures and bridge-reported errors alike;
// the dispatcher downgrades all of them to a per-step outcome.
func (c *Client) Send(ctx context.Context, device *domain.Device, cmd domain.Command) error {
	if device.BridgeAddress == "" || device.Credentials == "" || device.ExternalID == "" {
		return fmt.Errorf("device %q is missing bridge address, credentials or light id", device.Name)
	}

	state, err := ConvertCommand(cmd)
	if err != nil {
		return err
	}

	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	base := device.BridgeAddress
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	url := fmt.Sprintf("%s/api/%s/lights/%s/state", strings.TrimSuffix(base, "/"), device.Credentials, device.ExternalID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("bridge error %d: %s", resp.StatusCode, string(respBody))
	}

	// The bridge answers 200 even for failures; errors live in the body.
	var results []bridgeResult
	if err := json.Unmarshal(respBody, &results); err != nil {
		return fmt.Errorf("unmarshal bridge response: %w", err)
	}
	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("bridge rejected %s: %s", r.Error.Address, r.Error.Description)
		}
	}
	return nil
}
