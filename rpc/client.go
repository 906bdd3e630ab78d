// Copyright 2025 The go-nearledger Authors
// This file is part of the go-nearledger library.
//
// The go-nearledger library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-nearledger library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-nearledger library. If not, see <http://www.gnu.org/licenses/>.

// Package rpc implements the client side of the NEAR JSON-RPC 2.0 protocol,
// limited to the calls a signing client needs.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	// MainnetRPC is the default mainnet endpoint.
	MainnetRPC = "https://rpc.mainnet.near.org"

	// TestnetRPC is the default testnet endpoint.
	TestnetRPC = "https://rpc.testnet.near.org"

	vsn = "2.0"

	contentType      = "application/json"
	maxResponseBytes = 10 * 1024 * 1024
)

// Client is a JSON-RPC client bound to a single endpoint. It is safe for
// concurrent use.
type Client struct {
	endpoint  string
	client    *http.Client
	headers   http.Header
	log       *zap.Logger
	idCounter atomic.Uint64
}

// Option configures a client.
type Option func(*Client)

// WithHTTPClient replaces the transport used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithHeader sets an extra header on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithLogger sets the logger for request tracing.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the given endpoint URL.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		client:   new(http.Client),
		headers:  make(http.Header),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL the client posts to.
func (c *Client) Endpoint() string { return c.endpoint }

// jsonrpcMessage is the wire form of both requests and responses.
type jsonrpcMessage struct {
	Version string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *RequestError   `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// RequestError is a JSON-RPC error object returned by the node.
type RequestError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RequestError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s (code %d): %s", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// ErrorCode returns the JSON-RPC error code.
func (e *RequestError) ErrorCode() int { return e.Code }

// HTTPError is returned when the HTTP status code of the response is not a
// 2xx status.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (err HTTPError) Error() string {
	if len(err.Body) == 0 {
		return err.Status
	}
	return fmt.Sprintf("%v: %s", err.Status, err.Body)
}

// Call performs a JSON-RPC call and unmarshals the result field into result,
// which must be a pointer or nil when the result is irrelevant.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("invalid call parameters: %w", err)
	}
	id := c.idCounter.Add(1)
	msg := &jsonrpcMessage{
		Version: vsn,
		ID:      json.RawMessage(strconv.FormatUint(id, 10)),
		Method:  method,
		Params:  encodedParams,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.log.Debug("RPC request", zap.String("method", method), zap.Uint64("id", id))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(body))
	req.Header = c.headers.Clone()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       respBody,
		}
	}
	var respMsg jsonrpcMessage
	if err := json.Unmarshal(respBody, &respMsg); err != nil {
		return fmt.Errorf("invalid response from %s: %w", c.endpoint, err)
	}
	if respMsg.Error != nil {
		return respMsg.Error
	}
	if len(respMsg.Result) == 0 {
		return fmt.Errorf("response from %s carries neither result nor error", c.endpoint)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(respMsg.Result, result)
}
