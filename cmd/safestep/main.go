package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"safestep/internal/api"
	"safestep/pkg/audio"
	"safestep/pkg/cache"
	"safestep/pkg/config"
	"safestep/pkg/db"
	"safestep/pkg/db/maintenance"
	"safestep/pkg/guardian"
	"safestep/pkg/llm/gemini"
	"safestep/pkg/llm/prompts"
	"safestep/pkg/logging"
	"safestep/pkg/probe"
	"safestep/pkg/request"
	"safestep/pkg/routing"
	"safestep/pkg/store"
	"safestep/pkg/tracker"
	"safestep/pkg/tts"
	"safestep/pkg/tts/azure"
	"safestep/pkg/tts/edgetts"
	geminitts "safestep/pkg/tts/gemini"
	"safestep/pkg/version"
	"safestep/pkg/walk"
)

const defaultConfigPath = "configs/safestep.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	// Secrets may live in .env next to the binary; a missing file is fine.
	_ = godotenv.Load()

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log, &appCfg.History)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	if appCfg.History.TTS.Enabled {
		tts.SetLogPath(appCfg.History.TTS.Path)
	}

	slog.Info("SafeStep Started", "version", version.Version)

	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()
	st := store.NewSQLiteStore(dbConn)

	maintenance.Run(ctx, dbConn, appCfg.Routing.CacheTTL.Std())

	tr := tracker.New()
	reqClient := request.New(cache.NewSQLiteCache(dbConn, appCfg.Routing.CacheTTL.Std()), tr, appCfg.Request)

	svcs, err := initServices(appCfg, reqClient, tr)
	if err != nil {
		return err
	}
	defer svcs.LLM.Close()

	session := walk.NewSession(appCfg.Walk, svcs.Planner, svcs.Generator, deviceFactory(&appCfg.Audio), st)
	session.Restore(ctx)
	defer releaseAudio(session, audio.ShutdownSpeaker)

	results := probe.Run(ctx, startupProbes(svcs))
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	return runServer(ctx, appCfg, session, st, tr)
}

// Services are the external collaborators of a walk session.
type Services struct {
	LLM       *gemini.Client
	Speech    tts.Provider
	Planner   *routing.Planner
	Generator *guardian.Generator
}

func initServices(cfg *config.Config, reqClient *request.Client, tr *tracker.Tracker) (*Services, error) {
	llmLog := ""
	if cfg.History.LLM.Enabled {
		llmLog = cfg.History.LLM.Path
	}
	llmClient, err := gemini.NewClient(cfg.LLM, llmLog, tr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}

	speech, err := newSpeechProvider(cfg, llmClient, reqClient, tr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize TTS provider: %w", err)
	}

	promptMgr, err := prompts.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prompt manager: %w", err)
	}

	gen := guardian.NewGenerator(llmClient, promptMgr, tts.NewClient(speech, &cfg.TTS), tr, cfg.Walk.SegmentSeconds, cfg.Walk.WordsPerMinute)

	return &Services{
		LLM:       llmClient,
		Speech:    speech,
		Planner:   routing.NewPlanner(reqClient, cfg.Routing),
		Generator: gen,
	}, nil
}

// newSpeechProvider selects the TTS engine. Gemini speech shares the LLM client.
func newSpeechProvider(cfg *config.Config, llmClient *gemini.Client, reqClient *request.Client, tr *tracker.Tracker) (tts.Provider, error) {
	switch strings.ToLower(cfg.TTS.Engine) {
	case "", "gemini":
		return geminitts.NewProvider(llmClient, cfg.TTS.Model, tr), nil
	case "edge-tts":
		return edgetts.NewProvider(cfg.TTS.Edge, tr), nil
	case "azure-speech":
		return azure.NewProvider(reqClient, cfg.TTS.Azure, tr), nil
	default:
		return nil, fmt.Errorf("unknown tts engine %q", cfg.TTS.Engine)
	}
}

// releaseAudio ends the walk, which closes its device, before the shared speaker stops.
func releaseAudio(session interface{ Close() }, shutdownSpeaker func()) {
	session.Close()
	shutdownSpeaker()
}

// deviceFactory returns a fresh output device per walk.
func deviceFactory(cfg *config.AudioConfig) walk.DeviceFactory {
	if strings.EqualFold(cfg.Device, "null") {
		slog.Info("Audio output disabled, using null device")
		return func() audio.Device { return audio.NewNullDevice() }
	}
	return func() audio.Device { return audio.NewSpeakerDevice(cfg) }
}

func startupProbes(svcs *Services) []probe.Probe {
	// TEST_MODE runs without network access; failures are reported but do not stop startup.
	critical := os.Getenv("TEST_MODE") != "true"
	return []probe.Probe{
		{
			Name:     "LLM Provider",
			Check:    svcs.LLM.HealthCheck,
			Critical: critical,
			Timeout:  10 * time.Second,
		},
		{
			Name:  "Speech Engine",
			Check: speechCheck(svcs.Speech),
		},
		{
			Name:  "Routing Service",
			Check: svcs.Planner.HealthCheck,
		},
	}
}

func speechCheck(p tts.Provider) probe.CheckFunc {
	return func(ctx context.Context) error {
		voices, err := p.Voices(ctx)
		if err != nil {
			return err
		}
		if len(voices) == 0 {
			return errors.New("no voices available")
		}
		return nil
	}
}

func runServer(ctx context.Context, cfg *config.Config, session *walk.Session, st store.Store, tr *tracker.Tracker) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	events := api.NewEventHub(session)
	defer events.Close()

	srv := api.NewServer(cfg.Server.Address,
		api.NewWalkHandler(ctx, session),
		api.NewPlaybackHandler(session),
		api.NewStatsHandler(tr),
		api.NewHistoryHandler(st),
		events,
		shutdownFunc,
	)

	return runServerLifecycle(ctx, srv, quit)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
