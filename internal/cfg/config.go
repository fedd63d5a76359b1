// Package cfg loads and validates the TOML configuration file.
package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	DefMergeTrigger      = ":shipit:"
	DefJenkinsRetryLimit = 5
	DefLogFormat         = "logfmt"
	DefLogLevel          = "info"
	DefLogTimeKey        = "time"
)

// Environment variables that override config file values.
const (
	EnvVarBitbucketURL      = "BITBUCKET_URL"
	EnvVarBitbucketAPIToken = "BITBUCKET_API_TOKEN"
	EnvVarMergeTrigger      = "MERGEORDINATOR_TRIGGER"
	EnvVarDataDir           = "MERGEORDINATOR_DATA_DIR"
	EnvVarJenkinsUsername   = "JENKINS_USERNAME"
	EnvVarJenkinsPassword   = "JENKINS_PASSWORD"
)

type Config struct {
	BitbucketURL      string `toml:"bitbucket_url"`
	BitbucketAPIToken string `toml:"bitbucket_api_token"`

	MergeTrigger        string `toml:"merge_trigger"`
	CheckPRDescriptions *bool  `toml:"check_pr_descriptions"`
	CheckPRComments     *bool  `toml:"check_pr_comments"`
	FilterQuery         string `toml:"filter_query"`

	JenkinsUsername     string `toml:"jenkins_username"`
	JenkinsPassword     string `toml:"jenkins_password"`
	JenkinsRetryTrigger string `toml:"jenkins_retry_trigger"`
	JenkinsRetryLimit   *int   `toml:"jenkins_retry_limit"`

	DataDir            string `toml:"data_dir"`
	BackoffInterval    string `toml:"backoff_interval"`
	StalenessThreshold string `toml:"staleness_threshold"`

	SweepInterval  string `toml:"sweep_interval"`
	HTTPListenAddr string `toml:"http_server_listen_addr"`

	LogFormat  string `toml:"log_format"`
	LogLevel   string `toml:"log_level"`
	LogTimeKey string `toml:"log_time_key"`

	backoffInterval    time.Duration
	stalenessThreshold time.Duration
	sweepInterval      time.Duration
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// ApplyEnv overrides config values with the values of set environment
// variables.
func (c *Config) ApplyEnv() {
	applyEnvStr(EnvVarBitbucketURL, &c.BitbucketURL)
	applyEnvStr(EnvVarBitbucketAPIToken, &c.BitbucketAPIToken)
	applyEnvStr(EnvVarMergeTrigger, &c.MergeTrigger)
	applyEnvStr(EnvVarDataDir, &c.DataDir)
	applyEnvStr(EnvVarJenkinsUsername, &c.JenkinsUsername)
	applyEnvStr(EnvVarJenkinsPassword, &c.JenkinsPassword)
}

func applyEnvStr(envVar string, dest *string) {
	if val, exist := os.LookupEnv(envVar); exist {
		*dest = val
	}
}

// SetDefaults sets all unset optional values to their defaults.
func (c *Config) SetDefaults() {
	if c.MergeTrigger == "" {
		c.MergeTrigger = DefMergeTrigger
	}

	if c.CheckPRDescriptions == nil {
		c.CheckPRDescriptions = boolPtr(true)
	}

	if c.CheckPRComments == nil {
		c.CheckPRComments = boolPtr(true)
	}

	if c.JenkinsRetryLimit == nil {
		c.JenkinsRetryLimit = intPtr(DefJenkinsRetryLimit)
	}

	if c.LogFormat == "" {
		c.LogFormat = DefLogFormat
	}

	if c.LogLevel == "" {
		c.LogLevel = DefLogLevel
	}

	if c.LogTimeKey == "" {
		c.LogTimeKey = DefLogTimeKey
	}
}

// Validate checks the config for missing required and contradictory values
// and parses the duration fields.
// The zero value of a duration field means the caller's default applies.
func (c *Config) Validate() error {
	var err error

	if c.BitbucketURL == "" {
		return errors.New("bitbucket_url is unset")
	}

	if c.BitbucketAPIToken == "" {
		return errors.New("bitbucket_api_token is unset")
	}

	if (c.JenkinsUsername == "") != (c.JenkinsPassword == "") {
		return errors.New("jenkins_username and jenkins_password must both be set or both be unset")
	}

	if *c.JenkinsRetryLimit < 0 {
		return fmt.Errorf("jenkins_retry_limit is negative: %d", *c.JenkinsRetryLimit)
	}

	if c.backoffInterval, err = parseDuration("backoff_interval", c.BackoffInterval); err != nil {
		return err
	}

	if c.stalenessThreshold, err = parseDuration("staleness_threshold", c.StalenessThreshold); err != nil {
		return err
	}

	if c.sweepInterval, err = parseDuration("sweep_interval", c.SweepInterval); err != nil {
		return err
	}

	return nil
}

func parseDuration(field, val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}

	dur, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s failed: %w", field, err)
	}

	if dur <= 0 {
		return 0, fmt.Errorf("%s must be positive: %s", field, val)
	}

	return dur, nil
}

// JenkinsEnabled returns true when Jenkins credentials are configured.
func (c *Config) JenkinsEnabled() bool {
	return c.JenkinsUsername != ""
}

// JenkinsRetriesEnabled returns true when build retries are fully
// configured. Credentials without a retry trigger pattern disable retries,
// an unset pattern must not match every build name.
func (c *Config) JenkinsRetriesEnabled() bool {
	return c.JenkinsEnabled() && c.JenkinsRetryTrigger != ""
}

// BackoffIntervalDur returns the parsed backoff_interval value, 0 when it
// is unset. Validate must have been called before.
func (c *Config) BackoffIntervalDur() time.Duration {
	return c.backoffInterval
}

// StalenessThresholdDur returns the parsed staleness_threshold value, 0
// when it is unset. Validate must have been called before.
func (c *Config) StalenessThresholdDur() time.Duration {
	return c.stalenessThreshold
}

// SweepIntervalDur returns the parsed sweep_interval value, 0 when it is
// unset. Validate must have been called before.
func (c *Config) SweepIntervalDur() time.Duration {
	return c.sweepInterval
}

func boolPtr(val bool) *bool {
	return &val
}

func intPtr(val int) *int {
	return &val
}
