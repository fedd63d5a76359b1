package cfg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleConfig = `
bitbucket_url = "https://bitbucket.example.com"
bitbucket_api_token = "sekret"

merge_trigger = ":rocket:"
check_pr_descriptions = false
filter_query = ".toRef.repository.slug == \"flux\""

jenkins_username = "ci-bot"
jenkins_password = "hunter2"
jenkins_retry_trigger = "^ci-"
jenkins_retry_limit = 3

data_dir = "/var/lib/mergeordinator"
backoff_interval = "10m"
staleness_threshold = "48h"

sweep_interval = "2m"
http_server_listen_addr = ":8084"

log_format = "json"
log_level = "debug"
`

func loadValidated(t *testing.T, config string) *Config {
	t.Helper()

	cfg, err := Load(strings.NewReader(config))
	require.NoError(t, err)

	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	return cfg
}

func TestLoadExampleConfig(t *testing.T) {
	cfg := loadValidated(t, exampleConfig)

	assert.Equal(t, "https://bitbucket.example.com", cfg.BitbucketURL)
	assert.Equal(t, "sekret", cfg.BitbucketAPIToken)
	assert.Equal(t, ":rocket:", cfg.MergeTrigger)
	assert.False(t, *cfg.CheckPRDescriptions)
	assert.True(t, *cfg.CheckPRComments, "unset comment check must default to enabled")
	assert.Equal(t, `.toRef.repository.slug == "flux"`, cfg.FilterQuery)

	require.True(t, cfg.JenkinsEnabled())
	assert.Equal(t, "ci-bot", cfg.JenkinsUsername)
	assert.Equal(t, "^ci-", cfg.JenkinsRetryTrigger)
	assert.Equal(t, 3, *cfg.JenkinsRetryLimit)

	assert.Equal(t, "/var/lib/mergeordinator", cfg.DataDir)
	assert.Equal(t, 10*time.Minute, cfg.BackoffIntervalDur())
	assert.Equal(t, 48*time.Hour, cfg.StalenessThresholdDur())
	assert.Equal(t, 2*time.Minute, cfg.SweepIntervalDur())

	assert.Equal(t, ":8084", cfg.HTTPListenAddr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefLogTimeKey, cfg.LogTimeKey)
}

func TestMinimalConfigGetsDefaults(t *testing.T) {
	cfg := loadValidated(t, `
bitbucket_url = "https://bitbucket.example.com"
bitbucket_api_token = "sekret"
`)

	assert.Equal(t, DefMergeTrigger, cfg.MergeTrigger)
	assert.True(t, *cfg.CheckPRDescriptions)
	assert.True(t, *cfg.CheckPRComments)
	assert.Equal(t, DefJenkinsRetryLimit, *cfg.JenkinsRetryLimit)
	assert.Equal(t, DefLogFormat, cfg.LogFormat)
	assert.Equal(t, DefLogLevel, cfg.LogLevel)
	assert.False(t, cfg.JenkinsEnabled())
	assert.Zero(t, cfg.BackoffIntervalDur())
	assert.Zero(t, cfg.SweepIntervalDur())
}

func TestValidateRequiresBitbucketSettings(t *testing.T) {
	var cfg Config

	cfg.SetDefaults()
	require.ErrorContains(t, cfg.Validate(), "bitbucket_url")

	cfg.BitbucketURL = "https://bitbucket.example.com"
	require.ErrorContains(t, cfg.Validate(), "bitbucket_api_token")
}

func TestValidateRequiresCompleteJenkinsCredentials(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
bitbucket_url = "https://bitbucket.example.com"
bitbucket_api_token = "sekret"
jenkins_username = "ci-bot"
`))
	require.NoError(t, err)

	cfg.SetDefaults()
	require.ErrorContains(t, cfg.Validate(), "jenkins_password")
}

func TestJenkinsRetriesRequireATriggerPattern(t *testing.T) {
	// credentials alone must not enable retries, an unset trigger pattern
	// would otherwise match every failed build
	cfg := loadValidated(t, `
bitbucket_url = "https://bitbucket.example.com"
bitbucket_api_token = "sekret"
jenkins_username = "ci-bot"
jenkins_password = "hunter2"
`)

	assert.True(t, cfg.JenkinsEnabled())
	assert.False(t, cfg.JenkinsRetriesEnabled())

	cfg.JenkinsRetryTrigger = "^ci-"
	assert.True(t, cfg.JenkinsRetriesEnabled())
}

func TestValidateRejectsMalformedDurations(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
bitbucket_url = "https://bitbucket.example.com"
bitbucket_api_token = "sekret"
backoff_interval = "five minutes"
`))
	require.NoError(t, err)

	cfg.SetDefaults()
	require.ErrorContains(t, cfg.Validate(), "backoff_interval")
}

func TestValidateRejectsNegativeRetryLimit(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
bitbucket_url = "https://bitbucket.example.com"
bitbucket_api_token = "sekret"
jenkins_retry_limit = -1
`))
	require.NoError(t, err)

	cfg.SetDefaults()
	require.ErrorContains(t, cfg.Validate(), "jenkins_retry_limit")
}

func TestApplyEnvOverridesFileValues(t *testing.T) {
	t.Setenv(EnvVarBitbucketAPIToken, "env-token")
	t.Setenv(EnvVarMergeTrigger, ":package:")

	cfg, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	cfg.ApplyEnv()
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "env-token", cfg.BitbucketAPIToken)
	assert.Equal(t, ":package:", cfg.MergeTrigger)
	assert.Equal(t, "https://bitbucket.example.com", cfg.BitbucketURL)
}
