// Package bitbucketclt provides a Bitbucket Server API client.
package bitbucketclt

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

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/mergeordinator/internal/mergerr"
)

const DefaultHTTPClientTimeout = 10 * time.Second

const loggerName = "bitbucket_client"

// maxGetRetries is the number of additional attempts for idempotent GET
// requests that failed with a retryable error.
const maxGetRetries = 3

// New returns a new Bitbucket Server API client.
// Requests are authenticated with the given personal access token.
func New(baseURL, apiToken string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newHTTPClient(apiToken),
		logger:     zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is a Bitbucket Server API client.
// Failed GET requests are retried when the failure is temporary, errors of
// temporary failures wrap mergerr.RetryableError.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// page is the envelope of all paged Bitbucket Server REST responses.
type page struct {
	IsLastPage    bool              `json:"isLastPage"`
	NextPageStart *int              `json:"nextPageStart"`
	Values        []json.RawMessage `json:"values"`
}

func (clt *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		req.Header.Set("Accept", "application/json")

		resp, err := clt.httpClient.Do(req)
		if err != nil {
			// connection level failures are worth a retry
			return mergerr.NewRetryableError(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return mergerr.NewRetryableError(err)
		}

		if err := clt.responseError(resp.StatusCode, reqURL, data); err != nil {
			var retryable *mergerr.RetryableError
			if errors.As(err, &retryable) {
				return err
			}

			return backoff.Permanent(err)
		}

		body = data

		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxGetRetries),
		ctx,
	)

	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}

	return body, nil
}

// postJSON sends body as JSON. POST requests are not retried, they are not
// idempotent.
func (clt *Client) postJSON(ctx context.Context, reqURL string, body any) (*http.Response, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := clt.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	return resp, respBody, nil
}

func (clt *Client) getPaged(ctx context.Context, endpoint string, params url.Values) ([]json.RawMessage, error) {
	var values []json.RawMessage

	if params == nil {
		params = url.Values{}
	}

	params.Set("start", "0")

	for {
		reqURL := clt.baseURL + endpoint + "?" + params.Encode()

		body, err := clt.get(ctx, reqURL)
		if err != nil {
			return nil, err
		}

		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decoding response of %s failed: %w", endpoint, err)
		}

		values = append(values, p.Values...)

		if p.IsLastPage || p.NextPageStart == nil {
			return values, nil
		}

		params.Set("start", fmt.Sprint(*p.NextPageStart))
	}
}

func (clt *Client) responseError(statusCode int, reqURL string, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	err := fmt.Errorf("%s returned status %d: %s", reqURL, statusCode, truncate(body, 256))

	if statusCode == http.StatusTooManyRequests || (statusCode >= 500 && statusCode < 600) {
		return mergerr.NewRetryableError(err)
	}

	return err
}

func truncate(data []byte, maxLen int) string {
	s := strings.TrimSpace(string(data))
	if len(s) <= maxLen {
		return s
	}

	return s[:maxLen] + "..."
}

// Whoami returns the username of the authenticated user.
func (clt *Client) Whoami(ctx context.Context) (string, error) {
	body, err := clt.get(ctx, clt.baseURL+"/plugins/servlet/applinks/whoami")
	if err != nil {
		return "", fmt.Errorf("whoami request failed: %w", err)
	}

	username := strings.TrimSpace(string(body))
	if username == "" {
		return "", errors.New("whoami request returned an empty username")
	}

	return username, nil
}
