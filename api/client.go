package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime"

	"github.com/lumenml/lumen/envconfig"
	"github.com/lumenml/lumen/version"
)

// scan buffer cap; finished images ride the stream base64 encoded
const maxBufferSize = 64 << 20

// Client talks to a lumen server. Use [ClientFromEnvironment] for the
// configured default.
type Client struct {
	base *url.URL
	http *http.Client
}

// ClientFromEnvironment creates a [Client] for the host in LUMEN_HOST.
func ClientFromEnvironment() *Client {
	return &Client{
		base: envconfig.Host(),
		http: http.DefaultClient,
	}
}

func NewClient(base *url.URL, http *http.Client) *Client {
	return &Client{base: base, http: http}
}

// GenerateResponseFunc receives each streamed response record.
type GenerateResponseFunc func(GenerateResponse) error

// Generate streams image generation progress and results for req.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest, fn GenerateResponseFunc) error {
	return c.stream(ctx, http.MethodPost, "/api/generate", req, func(bts []byte) error {
		var resp GenerateResponse
		if err := json.Unmarshal(bts, &resp); err != nil {
			return err
		}

		return fn(resp)
	})
}

// List reports the models available on the server.
func (c *Client) List(ctx context.Context) (*ListResponse, error) {
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Version reports the server's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &resp); err != nil {
		return "", err
	}

	return resp.Version, nil
}

// Heartbeat checks that the server is reachable.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodHead, "/", nil, nil)
}

func (c *Client) stream(ctx context.Context, method, path string, data any, fn func([]byte) error) error {
	var buf bytes.Buffer
	if data != nil {
		if err := json.NewEncoder(&buf).Encode(data); err != nil {
			return err
		}
	}

	request, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), &buf)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/x-ndjson")
	request.Header.Set("User-Agent", userAgent())

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 4096), maxBufferSize)
	for scanner.Scan() {
		var errorResponse struct {
			Error string `json:"error,omitempty"`
		}

		bts := scanner.Bytes()
		if err := json.Unmarshal(bts, &errorResponse); err != nil {
			if response.StatusCode >= http.StatusBadRequest {
				return StatusError{
					StatusCode:   response.StatusCode,
					Status:       response.Status,
					ErrorMessage: string(bts),
				}
			}

			return errors.New(string(bts))
		}

		if response.StatusCode >= http.StatusBadRequest {
			return StatusError{
				StatusCode:   response.StatusCode,
				Status:       response.Status,
				ErrorMessage: errorResponse.Error,
			}
		}
		if errorResponse.Error != "" {
			return errors.New(errorResponse.Error)
		}

		if err := fn(bts); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	var buf bytes.Buffer
	if reqData != nil {
		if err := json.NewEncoder(&buf).Encode(reqData); err != nil {
			return err
		}
	}

	request, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), &buf)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", userAgent())

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		apiError := StatusError{StatusCode: response.StatusCode, Status: response.Status}
		if err := json.NewDecoder(response.Body).Decode(&apiError); err != nil {
			apiError.ErrorMessage = "unreadable error response"
		}

		return apiError
	}

	if respData != nil {
		if err := json.NewDecoder(response.Body).Decode(respData); err != nil {
			return err
		}
	}

	return nil
}

func userAgent() string {
	return fmt.Sprintf("lumen/%s (%s %s) Go/%s",
		version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version())
}
