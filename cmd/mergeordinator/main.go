package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/mergeordinator/internal/bitbucketclt"
	"github.com/simplesurance/mergeordinator/internal/cfg"
	"github.com/simplesurance/mergeordinator/internal/history"
	"github.com/simplesurance/mergeordinator/internal/jenkinsclt"
	"github.com/simplesurance/mergeordinator/internal/logfields"
	"github.com/simplesurance/mergeordinator/internal/merger"
	"github.com/simplesurance/mergeordinator/internal/trigger"
)

const appName = "mergeordinator"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func startHTTPServer(listenAddr string, mux *http.ServeMux) {
	httpServer := http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating http server",
			logfields.Event("http_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := httpServer.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down http server failed",
				logfields.Event("http_server_termination_failed"),
				zap.Error(err),
			)
		}
	})

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	Once        *bool
	ShowVersion *bool
}

var args arguments

const defConfigFile = "/etc/mergeordinator/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the mergeordinator configuration file",
		),
		Once: pflag.Bool(
			"once",
			false,
			"run a single sweep and exit, even when sweep_interval is configured",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nMerge pull requests that carry the merge trigger and retry their failed CI builds.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	config := &cfg.Config{}

	file, err := os.Open(*args.ConfigFile)
	if err != nil {
		// a missing file at the default path is fine, the required
		// values can come from environment variables
		if !os.IsNotExist(err) || pflag.CommandLine.Changed("cfg-file") {
			exitOnErr("could not open configuration file", err)
		}
	} else {
		defer file.Close()

		config, err = cfg.Load(file)
		if err != nil {
			exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
		}
	}

	config.ApplyEnv()
	config.SetDefaults()

	exitOnErr("configuration is invalid", config.Validate())

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func dataDir(config *cfg.Config) string {
	if config.DataDir != "" {
		return config.DataDir
	}

	home, err := os.UserHomeDir()
	exitOnErr("could not determine home directory, set data_dir in the config file", err)

	return filepath.Join(home, ".local", "share", appName)
}

func mustAssembleMerger(config *cfg.Config) *merger.Merger {
	mergeTrigger, err := trigger.New(config.MergeTrigger)
	if err != nil {
		logger.Fatal(
			"could not compile merge trigger pattern",
			zap.String("merge_trigger", config.MergeTrigger),
			zap.Error(err),
		)
	}

	store, err := history.NewDirStore(dataDir(config))
	if err != nil {
		logger.Fatal("could not initialize retry history store", zap.Error(err))
	}

	var policyOpts []history.PolicyOpt
	if config.BackoffIntervalDur() != 0 {
		policyOpts = append(policyOpts, history.WithBackoffInterval(config.BackoffIntervalDur()))
	}

	policy := history.NewPolicy(store, *config.JenkinsRetryLimit, policyOpts...)

	opts := []merger.Opt{
		merger.WithDescriptionCheck(*config.CheckPRDescriptions),
		merger.WithCommentCheck(*config.CheckPRComments),
	}

	if config.StalenessThresholdDur() != 0 {
		opts = append(opts, merger.WithStalenessThreshold(config.StalenessThresholdDur()))
	}

	if config.FilterQuery != "" {
		query, err := gojq.Parse(config.FilterQuery)
		if err != nil {
			logger.Fatal(
				"could not parse filter query",
				zap.String("filter_query", config.FilterQuery),
				zap.Error(err),
			)
		}

		opts = append(opts, merger.WithFilterQuery(query))
	}

	if config.JenkinsEnabled() && !config.JenkinsRetriesEnabled() {
		logger.Warn(
			"jenkins credentials are configured but jenkins_retry_trigger is unset, build retries are disabled",
		)
	}

	if config.JenkinsRetriesEnabled() {
		retryTrigger, err := regexp.Compile(config.JenkinsRetryTrigger)
		if err != nil {
			logger.Fatal(
				"could not compile jenkins retry trigger pattern",
				zap.String("jenkins_retry_trigger", config.JenkinsRetryTrigger),
				zap.Error(err),
			)
		}

		jenkinsClient := jenkinsclt.New(config.JenkinsUsername, config.JenkinsPassword)
		opts = append(opts, merger.WithCIClient(jenkinsClient, retryTrigger))
	}

	bitbucketClient := bitbucketclt.New(config.BitbucketURL, config.BitbucketAPIToken)

	return merger.New(bitbucketClient, store, policy, mergeTrigger, opts...)
}

func runSweepLoop(ctx context.Context, m *merger.Merger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.RunSweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	logger.Info(
		"loaded cfg",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("bitbucket_url", config.BitbucketURL),
		zap.String("bitbucket_api_token", hide(config.BitbucketAPIToken)),
		zap.String("merge_trigger", config.MergeTrigger),
		zap.Bool("check_pr_descriptions", *config.CheckPRDescriptions),
		zap.Bool("check_pr_comments", *config.CheckPRComments),
		zap.String("filter_query", config.FilterQuery),
		zap.Bool("jenkins_enabled", config.JenkinsEnabled()),
		zap.String("jenkins_username", config.JenkinsUsername),
		zap.String("jenkins_password", hide(config.JenkinsPassword)),
		zap.String("jenkins_retry_trigger", config.JenkinsRetryTrigger),
		zap.Int("jenkins_retry_limit", *config.JenkinsRetryLimit),
		zap.String("data_dir", dataDir(config)),
		zap.Duration("sweep_interval", config.SweepIntervalDur()),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	m := mustAssembleMerger(config)

	ctx, cancelFn := signal.NotifyContext(
		context.Background(),
		os.Interrupt, syscall.SIGTERM,
	)
	defer cancelFn()

	if *args.Once || config.SweepIntervalDur() == 0 {
		result := m.RunSweep(ctx)
		if result.OwnErr != nil || result.ApprovedErr != nil {
			goodbye.Exit(context.Background(), 1)
		}

		goodbye.Exit(context.Background(), 0)
	}

	if config.HTTPListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		startHTTPServer(config.HTTPListenAddr, mux)
	}

	runSweepLoop(ctx, m, config.SweepIntervalDur())

	goodbye.Exit(context.Background(), 0)
}
