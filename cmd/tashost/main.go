// Command tashost runs the headless simulation, plays TAS scripts and serves
// the editor over the studio channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"

	"github.com/framestep/tasbridge/internal/commands"
	"github.com/framestep/tasbridge/internal/config"
	"github.com/framestep/tasbridge/internal/dispatcher"
	"github.com/framestep/tasbridge/internal/history"
	"github.com/framestep/tasbridge/internal/logging"
	intOtel "github.com/framestep/tasbridge/internal/otel"
	"github.com/framestep/tasbridge/internal/playback"
	"github.com/framestep/tasbridge/internal/script"
	"github.com/framestep/tasbridge/internal/sim"
	"github.com/framestep/tasbridge/internal/studio"
	"github.com/framestep/tasbridge/internal/telemetry"
	"github.com/framestep/tasbridge/internal/toast"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"

	AppName = "tashost"
)

var (
	SessionStartTime = time.Now()

	LogFilePath string
	LogFile     *os.File

	SlogManager  *logging.SlogManager
	Logger       *slog.Logger
	OTelProvider *intOtel.Provider

	// set once the playback manager exists, read by the log context provider
	currentManager atomic.Pointer[playback.Manager]
)

func main() {
	args := os.Args[1:]
	configDir := "."
	if len(args) > 1 && args[0] == "-config" {
		configDir = args[1]
		args = args[2:]
	}

	setupLogging(configDir)
	defer shutdownLogging()

	if len(args) > 0 && strings.ToLower(args[0]) == "runs" {
		if err := printRuns(args[1:]); err != nil {
			Logger.Error("Failed to list runs", "error", err)
			os.Exit(1)
		}
		return
	}

	scriptPath := config.GetPlaybackConfig().ScriptPath
	if len(args) > 0 {
		scriptPath = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, scriptPath); err != nil {
		Logger.Error("Host stopped with error", "error", err)
		os.Exit(1)
	}
}

// setupLogging loads the config and then sets up file, OTel and Graylog output.
func setupLogging(configDir string) {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Options{Level: "info", Service: AppName})
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			Logger.Warn("No config file, using defaults", "dir", configDir)
		} else {
			Logger.Warn("Failed to load config, using defaults!", "error", err)
		}
	} else {
		Logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		Logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	}

	LogFilePath = logging.LogFilePath(logsDir, AppName, SessionStartTime)
	if _, err := os.Stat(LogFilePath); err == nil {
		_ = os.Rename(LogFilePath, LogFilePath+".old")
	}

	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
		LogFile = nil
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		cfg := intOtel.Config{
			Enabled:        true,
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: Version,
			BatchTimeout:   otelCfg.BatchTimeout,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
		}
		if LogFile != nil {
			cfg.LogWriter = LogFile
		}
		OTelProvider, err = intOtel.New(cfg)
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	opts := logging.Options{
		Level:   viper.GetString("logLevel"),
		Service: AppName,
		Context: func() []slog.Attr {
			if m := currentManager.Load(); m != nil {
				return m.LogAttrs()
			}
			return nil
		},
	}
	if LogFile != nil {
		opts.File = io.MultiWriter(os.Stdout, LogFile)
	}
	if OTelProvider != nil {
		opts.Provider = OTelProvider.LoggerProvider()
	}
	if gc := config.GetGraylogConfig(); gc.Enabled {
		w, err := logging.NewGraylogWriter(gc.Address, AppName)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", gc.Address)
		} else {
			opts.Graylog = w
		}
	}

	SlogManager.Setup(opts)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath, "version", Version, "buildDate", BuildDate)
}

func shutdownLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to shut down OTel: %v\n", err)
		}
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}

// componentLogger returns a zerolog logger for the storage components.
func componentLogger(component string) zerolog.Logger {
	writers := []io.Writer{os.Stdout}
	if LogFile != nil {
		writers = append(writers, LogFile)
	}
	return logging.NewZerolog(viper.GetString("logLevel"), component, writers...)
}

func meter(name string) metric.Meter {
	if OTelProvider == nil {
		return nil
	}
	return OTelProvider.Meter(name)
}

// hostTicks advances the simulation and then the playback manager.
type hostTicks struct {
	sim *sim.Simulation
	mgr *playback.Manager
}

func (h hostTicks) Tick()   { h.sim.Tick() }
func (h hostTicks) Update() { h.mgr.Update() }

func run(ctx context.Context, scriptPath string) error {
	pc := config.GetPlaybackConfig()
	sc := config.GetStudioConfig()

	bindings, err := config.GetBindings()
	if err != nil {
		return err
	}

	vocabTargets := commands.NewTargets()
	simulation, err := sim.New(sim.Config{
		Level:  pc.Level,
		Logger: Logger.With("component", "sim"),
	}, vocabTargets)
	if err != nil {
		return fmt.Errorf("creating simulation: %w", err)
	}

	watcher, err := script.NewWatcher(Logger.With("component", "watcher"))
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	go watcher.Run(ctx)

	mgr := playback.NewManager(simulation, playback.Options{
		Logger:           Logger.With("component", "playback"),
		Watcher:          watcher,
		Meter:            meter("playback"),
		FastForwardSpeed: pc.FastForwardSpeed,
		SlowForwardSpeed: pc.SlowForwardSpeed,
	})
	currentManager.Store(mgr)

	vocab := commands.New(commands.Deps{
		Console:   simulation,
		Targets:   vocabTargets,
		Logger:    Logger.With("component", "commands"),
		SetUnsafe: mgr.SetAllowUnsafe,
	})
	simulation.RegisterConsole("set", func(args []string) error {
		vocab.ConsoleSet(args)
		return nil
	})
	simulation.RegisterConsole("invoke", func(args []string) error {
		vocab.ConsoleInvoke(args)
		return nil
	})

	loader, err := script.New(script.Config{
		Logger:          Logger.With("component", "script"),
		Toaster:         toast.NewLog(Logger),
		OnAbort:         mgr.DisableRunLater,
		BreakpointSpeed: pc.FastForwardSpeed,
	}, vocab.Definitions()...)
	if err != nil {
		return fmt.Errorf("creating script loader: %w", err)
	}
	mgr.SetLoader(loader)
	if scriptPath != "" {
		mgr.SetPath(scriptPath)
		Logger.Info("Script selected", "path", scriptPath)
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(componentLogger("dispatcher")))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	defer d.Close()
	mgr.RegisterHandlers(d, simulation, vocab)

	host := studio.NewHost(d, studio.HostConfig{
		Address:  sc.Address,
		Bindings: bindings,
		Logger:   Logger.With("component", "studio"),
	})
	mgr.SetPublisher(host)
	host.OnDisconnect(func() {
		mgr.AddMainThreadAction(mgr.Hotkeys().ReleaseAll)
	})

	if OTelProvider != nil {
		mgr.OnDisable(func() {
			go func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := OTelProvider.Flush(flushCtx); err != nil {
					Logger.Warn("Failed to flush OTel logs", "error", err)
				}
			}()
		})
	}

	hist := setupHistory(mgr)
	tele := setupTelemetry(ctx, mgr)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- host.ListenAndServe(ctx)
	}()
	Logger.Info("Waiting for the editor", "url", sc.URL())

	var onFrame func()
	if tele != nil {
		onFrame = func() { tele.Observe(mgr.Snapshot(), mgr.PlaybackSpeed()) }
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	go func() {
		if err := <-serveErr; err != nil {
			Logger.Error("Studio channel stopped", "error", err)
			cancelLoop()
		}
	}()
	runLoop(loopCtx, pc.FPS, hostTicks{sim: simulation, mgr: mgr}, mgr.UpdateMeta, mgr.PlaybackSpeed, onFrame)
	cancelLoop()

	Logger.Info("Shutting down...")
	mgr.DisableRun()

	if err := host.Close(); err != nil {
		Logger.Warn("Failed to close studio channel", "error", err)
	}
	if hist != nil {
		if err := hist.Close(); err != nil {
			Logger.Warn("Failed to close run history", "error", err)
		}
	}
	if tele != nil {
		if err := tele.Close(); err != nil {
			Logger.Warn("Failed to close telemetry", "error", err)
		}
	}
	return nil
}

func setupHistory(mgr *playback.Manager) *history.Manager {
	hc := config.GetHistoryConfig()
	if !hc.Enabled {
		return nil
	}
	hist := history.NewManager(componentLogger("history"), history.Config{
		Driver:        hc.Driver,
		DSN:           hc.DSN,
		Path:          hc.Path,
		DumpPath:      hc.DumpPath,
		FlushInterval: hc.FlushInterval,
	})
	if err := hist.Connect(); err != nil {
		Logger.Error("Run history disabled", "error", err)
		return nil
	}
	if err := hist.Setup(); err != nil {
		Logger.Error("Run history disabled", "error", err)
		_ = hist.Close()
		return nil
	}
	hist.Attach(mgr)
	hist.Start()
	return hist
}

func setupTelemetry(ctx context.Context, mgr *playback.Manager) *telemetry.Manager {
	ic := config.GetInfluxConfig()
	tele := telemetry.NewManager(componentLogger("telemetry"), telemetry.Config{
		Enabled:     ic.Enabled,
		URL:         ic.URL,
		Token:       ic.Token,
		Org:         ic.Org,
		BackupPath:  ic.BackupPath,
		SampleEvery: ic.SampleEvery,
	})
	if err := tele.Connect(ctx); err != nil {
		if !errors.Is(err, telemetry.ErrDisabled) {
			Logger.Error("Telemetry disabled", "error", err)
		}
		return nil
	}
	tele.Attach(mgr)
	return tele
}
