// Package ocr implements the OCR service adapter (§6): a narrow typed client
// over the external OCR microservice's fixed request/response schema. The
// microservice's image decoding and text extraction are explicitly out of
// scope (§1) — this package only speaks its wire protocol.
//
// The attempt/backoff loop and 4xx short-circuit below are grounded on this
// service lineage's generic retryable HTTP client: a bounded number of
// attempts, exponential backoff between them, and no retry once the server
// has rejected the request outright.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Result is the OCR microservice's typed response (§6).
type Result struct {
	Text           string  `json:"text"`
	Total          *string `json:"total,omitempty"`
	Title          string  `json:"title,omitempty"`
	Confidence     string  `json:"confidence"`
	ProcessingTime string  `json:"processing_time"`
}

// ErrorKind classifies an OCR adapter failure for the caller (the reactive
// OCR handler), which maps it to MarkOcrFailed.ErrorKind.
type ErrorKind string

const (
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindRejected   ErrorKind = "rejected"
	ErrorKindUnavailable ErrorKind = "service_unavailable"
)

// Error is a typed OCR adapter failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("ocr: %s: %s", e.Kind, e.Message) }

// Client calls the external OCR service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries uint64
}

// New constructs a Client. timeout <= 0 uses the spec's default of 30s
// (§6: ocr.timeout).
func New(baseURL string, timeout time.Duration, maxRetries uint64) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries == 0 {
		maxRetries = 2
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// Extract sends file bytes to the OCR service and returns its extraction
// result. Bytes are sent as a multipart body that is built in memory before
// each attempt (§6).
func (c *Client) Extract(ctx context.Context, data []byte, contentType, filename string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	var result *Result
	err := backoff.Retry(func() error {
		res, err := c.extractOnce(ctx, data, contentType, filename)
		if err != nil {
			var opErr *Error
			if asOcrError(err, &opErr) && opErr.Kind == ErrorKindRejected {
				lastErr = err
				return backoff.Permanent(err)
			}
			lastErr = err
			return err
		}
		result = res
		return nil
	}, policy)

	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &Error{Kind: ErrorKindUnavailable, Message: err.Error()}
	}
	return result, nil
}

func (c *Client) extractOnce(ctx context.Context, data []byte, contentType, filename string) (*Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, &Error{Kind: ErrorKindRejected, Message: err.Error()}
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, &Error{Kind: ErrorKindRejected, Message: err.Error()}
	}
	_ = writer.WriteField("content_type", contentType)
	if err := writer.Close(); err != nil {
		return nil, &Error{Kind: ErrorKindRejected, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", body)
	if err != nil {
		return nil, &Error{Kind: ErrorKindRejected, Message: err.Error()}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: ErrorKindTimeout, Message: err.Error()}
		}
		return nil, &Error{Kind: ErrorKindUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &Error{Kind: ErrorKindRejected, Message: string(msg)}
	}
	if resp.StatusCode >= 500 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &Error{Kind: ErrorKindUnavailable, Message: string(msg)}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Kind: ErrorKindRejected, Message: "invalid response body: " + err.Error()}
	}
	return &result, nil
}

func asOcrError(err error, out **Error) bool {
	if e, ok := err.(*Error); ok {
		*out = e
		return true
	}
	return false
}
