// Package main provides the tour server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/yamatt/walking-tour/internal/api/httpapi"
	"github.com/yamatt/walking-tour/internal/app/filter"
	"github.com/yamatt/walking-tour/internal/app/guide"
	"github.com/yamatt/walking-tour/internal/app/places"
	"github.com/yamatt/walking-tour/internal/app/player"
	"github.com/yamatt/walking-tour/internal/audio"
	"github.com/yamatt/walking-tour/internal/infra/config"
	"github.com/yamatt/walking-tour/internal/infra/logger"
	"github.com/yamatt/walking-tour/internal/infra/webspeech"
	"github.com/yamatt/walking-tour/internal/infra/wikipedia"
	"github.com/yamatt/walking-tour/internal/observability"
	"github.com/yamatt/walking-tour/internal/speech"
)

var (
	app        = kingpin.New("tourd", "Location-aware narration tour server")
	configPath = app.Flag("config", "Path to config file").Default("config.yaml").String()
	port       = app.Flag("port", "Listen port (overrides config)").Int()
	logLevel   = app.Flag("log-level", "Log level (overrides config)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available place filters and exit")
)

func init() {
	// start command (default)
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}

	logger.Init(cfg.Server.LogLevel, cfg.Server.LogFormat)
	zlog.Info().Msgf("loaded config from %s", *configPath)

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. A separate function so defers run
// even when returning with an error.
func run(cfg *config.Config) error {
	metrics := observability.NewMetrics("walking_tour")

	// Content client and providers.
	wiki := wikipedia.New(wikipedia.Config{
		Lang:      cfg.Wikipedia.Lang,
		BaseURL:   cfg.Wikipedia.BaseURL,
		Timeout:   time.Duration(cfg.Wikipedia.TimeoutSeconds) * time.Second,
		UserAgent: cfg.Wikipedia.UserAgent,
	})
	providers, err := places.NewProviderChainFromConfig(cfg, wiki)
	if err != nil {
		return err
	}
	filters, err := filter.NewChainFromConfig(cfg.Filters)
	if err != nil {
		return err
	}

	// Speech: remote engine, session, liveness monitor.
	engine := webspeech.NewEngine()
	session := speech.NewSession(engine, speech.Options{
		VoiceName:              cfg.Speech.VoiceName,
		Lang:                   cfg.Speech.Lang,
		Rate:                   cfg.Speech.Rate,
		ChunkChars:             cfg.Speech.ChunkChars,
		SettleDelay:            time.Duration(cfg.Speech.SettleDelayMS) * time.Millisecond,
		StartCheck:             time.Duration(cfg.Speech.StartCheckMS) * time.Millisecond,
		TolerateEndAfterCancel: !cfg.Speech.StrictEndAfterCancel,
	})
	monitor := speech.NewMonitor(speech.MonitorConfig{
		Poll:           time.Duration(cfg.Liveness.PollMS) * time.Millisecond,
		Grace:          time.Duration(cfg.Liveness.GraceMS) * time.Millisecond,
		ChunkCooldown:  time.Duration(cfg.Liveness.ChunkCooldownMS) * time.Millisecond,
		WordsPerMinute: cfg.Liveness.WordsPerMinute,
		Rate:           cfg.Speech.Rate,
		Engine:         engine,
	})
	watcher := guide.NewWatcher(monitor, metrics)

	// Keepalive: silent clip looped by the companion page.
	var keepalive audio.Keepalive = engine
	if cfg.Keepalive.Disabled {
		keepalive = audio.NopKeepalive{}
	} else {
		engine.SetKeepaliveClip(audio.SilentClipDataURL(
			time.Duration(cfg.Keepalive.ClipSeconds)*time.Second,
			cfg.Keepalive.SampleRate,
		))
	}

	fetcher := guide.NewFetcher(wiki)
	p := player.New(fetcher, session, watcher, keepalive, player.Options{
		InterTrackPause:   time.Duration(cfg.Player.InterTrackPauseMS) * time.Millisecond,
		CompletionMessage: cfg.GetMessage("tour_completed"),
		EventBuffer:       cfg.Player.EventBuffer,
	})

	hub := httpapi.NewHub()
	manager := guide.NewManager(cfg, guide.Deps{
		Player:    p,
		Providers: providers,
		Filters:   filters,
		Hub:       hub,
		Metrics:   metrics,
		Media:     engine,
	})
	defer manager.Close()

	// Companion page hooks: foreground recheck and lock-screen transport.
	engine.OnVisibility(func(hidden bool) {
		if !hidden {
			watcher.Nudge()
		}
	})
	engine.OnAction(manager.HandleAction)

	api := httpapi.New(manager, engine, hub)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		zlog.Info().Msgf("received signal %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	zlog.Info().Msg("shutdown complete")
	return nil
}

// printFilters lists the registered place filters.
func printFilters() {
	fmt.Println("Available filters:")
	for name, factory := range filter.GetRegistered() {
		f := factory()
		fmt.Printf("  %s\n", name)
		fmt.Printf("    %s\n", f.Description())
		fmt.Printf("    return codes: %v\n", f.ReturnCodes())
	}
}
