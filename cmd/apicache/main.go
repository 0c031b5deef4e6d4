package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/apicache"
	"github.com/always-cache/apicache/config"
	gateway "github.com/always-cache/apicache/pkg/api-gateway"
	transport "github.com/always-cache/apicache/pkg/http-transport"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFlag         string
	portFlag           int
	verbosityTraceFlag bool
	logFilenameFlag    string
	dumpConfigFlag     bool

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "YAML config file (environment variables only if empty)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use in addition to stdout (overrides config)")
	flag.BoolVar(&dumpConfigFlag, "dump-config", false, "Print the effective config and exit")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output())
		config.Usage(flag.CommandLine.Output())
	}

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if logFilenameFlag != "" {
		cfg.Log.File = logFilenameFlag
	}
	if dumpConfigFlag {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			log.Fatal().Err(err).Msg("Could not dump config")
		}
		return
	}

	// set log level
	logLevel := cfg.LogLevel()
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if cfg.Log.File != "" {
		if logFileOutput, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	tr, err := transport.New(transport.Config{
		BaseURL:     cfg.API.BaseURL,
		Timeout:     cfg.API.Timeout.Duration(),
		Credentials: !cfg.API.OmitCredentials,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create transport")
	}

	store, err := cfg.NewStore()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create store")
	}

	rules := cfg.Rules()
	client, err := apicache.New(apicache.Config{
		Fetcher:         tr,
		Store:           store,
		Rules:           &rules,
		Warm:            cfg.Cache.Warm,
		RefreshInterval: cfg.Cache.RefreshInterval.Duration(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: gateway.New(client, tr, log.Logger),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Serving %s on port %d (store %s)", cfg.API.BaseURL, cfg.Server.Port, cfg.Cache.Store)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	if err := client.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close cache")
	}
}
