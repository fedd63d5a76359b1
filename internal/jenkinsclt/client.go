// Package jenkinsclt triggers Jenkins builds via the Jenkins remote access
// API.
package jenkinsclt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultHTTPClientTimeout = 10 * time.Second

const loggerName = "jenkins_client"

// buildURLRe splits a Jenkins build URL into the job URL and the numeric
// build id. The optional display/redirect suffix that Bitbucket appends to
// build status URLs is stripped.
var buildURLRe = regexp.MustCompile(`^(.*)/(\d+)(?:/)?(?:display/redirect)?$`)

// New returns a Jenkins API client that authenticates with the given
// username and password or API token.
func New(username, password string) *Client {
	return &Client{
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		},
		logger: zap.L().Named(loggerName),
	}
}

// Client is a Jenkins API client.
type Client struct {
	username   string
	password   string
	httpClient *http.Client
	logger     *zap.Logger
}

// job identifies one numbered build of a Jenkins job.
type job struct {
	baseURL string
	id      string
}

func parseBuildURL(buildURL string) (*job, error) {
	matches := buildURLRe.FindStringSubmatch(buildURL)
	if matches == nil {
		return nil, fmt.Errorf("invalid jenkins build url: %q", buildURL)
	}

	return &job{baseURL: matches[1], id: matches[2]}, nil
}

func (j *job) apiURL() string {
	return fmt.Sprintf("%s/%s/api/json", j.baseURL, j.id)
}

func (j *job) triggerURL() string {
	return fmt.Sprintf("%s/buildWithParameters", j.baseURL)
}

type buildParameter struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type buildAction struct {
	Class      string           `json:"_class"`
	Parameters []buildParameter `json:"parameters"`
}

type buildJSON struct {
	Actions []buildAction `json:"actions"`
}

// buildParameters fetches the build identified by j and returns its build
// parameters.
func (clt *Client) buildParameters(ctx context.Context, j *job) ([]buildParameter, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.apiURL(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(clt.username, clt.password)

	resp, err := clt.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", j.apiURL(), resp.StatusCode)
	}

	var build buildJSON
	if err := json.Unmarshal(body, &build); err != nil {
		return nil, fmt.Errorf("decoding build %s failed: %w", j.apiURL(), err)
	}

	for _, action := range build.Actions {
		if strings.HasSuffix(action.Class, "ParametersAction") {
			return action.Parameters, nil
		}
	}

	return nil, fmt.Errorf("build %s has no parameters action", j.apiURL())
}

// Rebuild resubmits the build at buildURL as a new build with the same
// parameters.
// Only string and boolean build parameters are supported, parameters of
// other types are skipped with a warning.
func (clt *Client) Rebuild(ctx context.Context, buildURL string) error {
	j, err := parseBuildURL(buildURL)
	if err != nil {
		return err
	}

	parameters, err := clt.buildParameters(ctx, j)
	if err != nil {
		return fmt.Errorf("fetching build parameters failed: %w", err)
	}

	query := url.Values{}

	for _, param := range parameters {
		switch val := param.Value.(type) {
		case string:
			query.Set(param.Name, val)
		case bool:
			query.Set(param.Name, strconv.FormatBool(val))
		default:
			clt.logger.Warn(
				"skipping build parameter that is neither a string nor a boolean",
				zap.String("parameter", param.Name),
				zap.String("parameter_type", fmt.Sprintf("%T", param.Value)),
			)
		}
	}

	reqURL := j.triggerURL()
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return err
	}

	req.SetBasicAuth(clt.username, clt.password)

	resp, err := clt.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("triggering rebuild returned status %d", resp.StatusCode)
	}

	return nil
}
