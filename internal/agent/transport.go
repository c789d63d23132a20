package agent

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/brianhealey/smart-inventory/internal/agent/config"
	"github.com/brianhealey/smart-inventory/internal/agent/processing"
)

const userAgent = "smart-inventory-device/0.1.0"

// TransportError covers connect, TLS, HTTP-status, and response-decode
// failures. Any of them sends the uploader into backoff; the batch stays in
// the outbox.
type TransportError struct {
	msg string
	err error
}

func (e *TransportError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *TransportError) Unwrap() error {
	return e.err
}

// SensorMeta describes a configured sensor, sent alongside batches for the
// server to use in the future.
type SensorMeta struct {
	SensorID   string                 `json:"sensor_id"`
	Type       string                 `json:"type"`
	Thresholds *processing.Thresholds `json:"thresholds,omitempty"`
	StateMap   map[string]string      `json:"state_map,omitempty"`
}

// BatchPayload is the upload wire format.
type BatchPayload struct {
	DeviceID   string               `json:"device_id"`
	Firmware   string               `json:"firmware,omitempty"`
	SentAt     string               `json:"sent_at,omitempty"`
	Readings   []processing.Reading `json:"readings"`
	SensorMeta []SensorMeta         `json:"sensor_meta,omitempty"`
}

// BatchResponse carries the server's ack. AckSeqID may be absent; the
// uploader then falls back to the batch's own last sequence id.
type BatchResponse struct {
	AckSeqID   *uint64 `json:"ack_seq_id"`
	ServerTime string  `json:"server_time"`
}

// Poster uploads one batch. Satisfied by *Client; tests substitute fakes.
type Poster interface {
	PostBatch(payload BatchPayload) (*BatchResponse, error)
}

// Client posts reading batches to the server ingest endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg config.NetworkConfig) (*Client, error) {
	client := &http.Client{
		Timeout: time.Duration(cfg.TimeoutSeconds()) * time.Second,
	}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACertPath)
		}
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		http:    client,
	}, nil
}

func (c *Client) PostBatch(payload BatchPayload) (*BatchResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{msg: "failed to encode batch", err: err}
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/readings/batch", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{msg: "failed to build request", err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{msg: "upload failed", err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{msg: fmt.Sprintf("server returned %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{msg: "failed to read response", err: err}
	}
	var ack BatchResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ack); err != nil {
			return nil, &TransportError{msg: "invalid JSON response", err: err}
		}
	}
	return &ack, nil
}
