package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MaxwellDPS/flocksense/internal/adapters/ingest/pcapreplay"
	"github.com/MaxwellDPS/flocksense/internal/adapters/reporting"
	"github.com/MaxwellDPS/flocksense/internal/adapters/storage"
	"github.com/MaxwellDPS/flocksense/internal/adapters/web"
	"github.com/MaxwellDPS/flocksense/internal/config"
	"github.com/MaxwellDPS/flocksense/internal/core/ports"
	"github.com/MaxwellDPS/flocksense/internal/core/services/engine"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics/blespam"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics/bletracker"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics/cellular"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics/gnss"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics/roguewifi"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics/satellite"
	"github.com/MaxwellDPS/flocksense/internal/core/services/heuristics/ultrasonic"
	"github.com/MaxwellDPS/flocksense/internal/core/services/reanalysis"
	"github.com/MaxwellDPS/flocksense/internal/core/services/signature"
	"github.com/MaxwellDPS/flocksense/internal/geo"
	"github.com/MaxwellDPS/flocksense/internal/mock"
	"github.com/MaxwellDPS/flocksense/internal/telemetry"
)

// Default buffer size for event sources feeding the engine.
const sourceBuffer = 256

// Application holds the core components of the process. It acts as the
// Facade for the entire system, orchestrating services and infrastructure.
type Application struct {
	Config    *config.Config
	Policy    config.Policy
	Engine    *engine.Engine
	WebServer *web.Server
	Scheduler *reanalysis.Scheduler
	Source    ports.EventSource
	Store     *storage.SQLiteAdapter

	log *slog.Logger
}

// New creates a new Application instance and bootstraps its components.
func New(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if log == nil {
		log = slog.Default()
	}
	app := &Application{
		Config: cfg,
		log:    log,
	}

	if err := app.bootstrap(); err != nil {
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}

	return app, nil
}

// bootstrap orchestrates the initialization sequence.
func (app *Application) bootstrap() error {
	// 1. Foundation & Infrastructure
	telemetry.InitMetrics()

	policy, err := config.LoadPolicy(app.Config.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to load detection policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid detection policy: %w", err)
	}
	app.Policy = policy

	if err := app.initStorage(); err != nil {
		return err
	}

	// 2. Domain Services
	registry, err := app.loadSignatures()
	if err != nil {
		return err
	}

	app.WebServer = web.NewServer(app.Config.Addr, nil, nil, reporting.NewPDFReporter(), app.log)

	app.Engine = engine.New(policy, registry, app.buildHeuristics(), app.log,
		engine.WithStorage(app.Store),
		engine.WithNotifier(app.WebServer),
	)

	// The web layer reads detections and the environment straight from the
	// engine's single-writer aggregation state.
	app.WebServer.Store = app.Engine
	app.WebServer.Env = app.Engine

	app.Scheduler = reanalysis.New(policy.Engine, app.Engine, nil, app.Engine, app.log)

	// 3. Ingest
	if err := app.initSource(); err != nil {
		return err
	}

	return nil
}

func (app *Application) initStorage() error {
	if err := os.MkdirAll(filepath.Dir(app.Config.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create DB directory: %w", err)
	}

	store, err := storage.NewSQLiteAdapter(app.Config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init detection storage: %w", err)
	}
	app.Store = store
	return nil
}

func (app *Application) loadSignatures() (*signature.Registry, error) {
	registry, err := signature.Load(app.Config.SignaturePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load signature registry: %w", err)
	}
	app.log.Info("signature registry loaded", "patterns", registry.Len())
	return registry, nil
}

func (app *Application) buildHeuristics() []ports.Heuristic {
	return []ports.Heuristic{
		cellular.New(app.Policy.Cellular),
		gnss.New(app.Policy.GNSS),
		bletracker.New(app.Policy.BLETracker),
		blespam.New(app.Policy.BLESpam),
		roguewifi.New(app.Policy.WiFi),
		ultrasonic.New(app.Policy.Ultrasonic),
		satellite.New(app.Policy.Satellite),
	}
}

func (app *Application) initSource() error {
	observer := geo.NewStaticProvider(app.Config.Latitude, app.Config.Longitude)
	switch {
	case app.Config.PcapPath != "":
		app.Source = pcapreplay.New(app.Config.PcapPath, sourceBuffer, observer, app.log)
		app.log.Info("replaying capture file", "path", app.Config.PcapPath)
	case app.Config.MockMode:
		app.Source = mock.New(sourceBuffer, 1, observer.GetLocation())
		app.log.Info("mock mode active, generating synthetic sensor streams")
	default:
		return fmt.Errorf("no event source configured: pass -mock or -pcap")
	}
	return nil
}

// Run starts the servers and drives the engine until the source is
// exhausted or the context is cancelled.
func (app *Application) Run(ctx context.Context) error {
	slog.Info("Starting flocksense components...")

	errChan := make(chan error, 2)

	go func() {
		app.log.Info("web server listening", "addr", app.Config.Addr)
		if err := app.WebServer.Run(ctx); err != nil {
			errChan <- fmt.Errorf("web server error: %w", err)
		}
	}()

	go app.Scheduler.Run(ctx)

	engineDone := make(chan error, 1)
	go func() { engineDone <- app.Engine.Run(ctx, app.Source) }()

	slog.Info("flocksense ready. Press Ctrl+C to terminate.")

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Termination signal received")
		runErr = <-engineDone
	case err := <-engineDone:
		runErr = err
	case err := <-errChan:
		runErr = err
	}

	if cerr := app.cleanup(); runErr == nil {
		runErr = cerr
	}
	if runErr == context.Canceled {
		return nil
	}
	return runErr
}

func (app *Application) cleanup() error {
	slog.Info("Cleaning up resources...")

	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			return fmt.Errorf("closing storage: %w", err)
		}
	}
	return nil
}
