// Package apiclient talks to the clinic backend's REST API and turns its
// {success, data, message} envelopes into typed values or errors.
package apiclient

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

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 4 << 20

type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	Transport http.RoundTripper
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := options.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		baseURL: strings.TrimRight(options.BaseURL, "/"),
		token:   options.Token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint
}

// do sends one request and returns the decoded envelope of a successful
// response. Every failure is either a *TransportError, an *APIError or
// ErrMalformedEnvelope.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload interface{}) (envelope, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return envelope{}, fmt.Errorf("%s: encode payload: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return envelope{}, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	rid := RequestIDFrom(ctx)
	if rid == "" {
		rid = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", rid)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return envelope{}, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	env, parseErr := parseEnvelope(raw)
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		msg := http.StatusText(resp.StatusCode)
		if parseErr == nil && env.Message != "" {
			msg = env.Message
		}
		return envelope{}, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	case resp.StatusCode >= http.StatusBadRequest:
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if parseErr == nil {
			apiErr.Message = env.Message
			apiErr.Fields = env.Errors
		} else {
			apiErr.Message = looseMessage(raw)
		}
		return envelope{}, apiErr
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return envelope{}, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("unexpected status")}
	}

	if parseErr != nil {
		return envelope{}, fmt.Errorf("%s: %w", op, parseErr)
	}
	if !*env.Success {
		return envelope{}, &APIError{StatusCode: resp.StatusCode, Message: env.Message, Fields: env.Errors}
	}
	return env, nil
}

// looseMessage pulls "message" out of non-envelope error bodies such as the
// framework's default 404 and 401 pages.
func looseMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return body.Message
}

func (c *Client) getOne(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	env, err := c.do(ctx, op, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := env.decodeData(out); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) getList(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	env, err := c.do(ctx, op, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := env.decodeList(out); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, payload, out interface{}) error {
	env, err := c.do(ctx, op, http.MethodPost, path, nil, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := env.decodeData(out); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
