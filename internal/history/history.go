// Package history records every run and every failure to a database.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/framestep/tasbridge/internal/playback"
	"github.com/framestep/tasbridge/internal/queue"
	"github.com/framestep/tasbridge/internal/script"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the database.
type Config struct {
	// Driver is DriverSQLite or DriverPostgres. Postgres falls back to an
	// in-memory SQLite database when it cannot be reached.
	Driver string
	// DSN is the Postgres connection string.
	DSN string
	// Path is the SQLite file. Empty keeps the database in memory.
	Path string
	// DumpPath receives a copy of an in-memory database on Close.
	DumpPath string
	// FlushInterval is how often queued records are written.
	FlushInterval time.Duration
}

// Manager owns the connection and the write queues. Records are queued from
// the playback goroutine and written in batches by a background writer.
type Manager struct {
	DB         *gorm.DB
	SqlDB      *sql.DB
	IsValid    bool
	ShouldDump bool
	Logger     zerolog.Logger
	cfg        Config
	now        func() time.Time
	runs       *queue.Queue[Run]
	failures   *queue.Queue[Failure]
	current    *Run
	failed     bool
	stopChan   chan struct{}
	writerDone chan struct{}
	flushMu    sync.Mutex
	stopOnce   sync.Once
}

// NewManager creates a manager. Call Connect and Setup before Start.
func NewManager(log zerolog.Logger, cfg Config) *Manager {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Manager{
		Logger:   log,
		cfg:      cfg,
		now:      time.Now,
		runs:     queue.New[Run](),
		failures: queue.New[Failure](),
	}
}

// Connect opens the configured database unless DB was set by the caller.
func (m *Manager) Connect() error {
	if m.DB == nil {
		var err error
		switch m.cfg.Driver {
		case DriverPostgres:
			m.DB, err = m.GetPostgresDB()
			if err == nil {
				err = ping(m.DB)
			}
			if err != nil {
				m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
				m.DB, err = m.GetSqliteDB("")
			}
		case DriverSQLite:
			m.DB, err = m.GetSqliteDB(m.cfg.Path)
		default:
			err = fmt.Errorf("unknown history driver %q", m.cfg.Driver)
		}
		if err != nil {
			m.IsValid = false
			return fmt.Errorf("failed to open history DB: %w", err)
		}
	}

	var err error
	m.SqlDB, err = m.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err = m.SqlDB.Ping(); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to validate connection: %w", err)
	}

	m.IsValid = true
	m.Logger.Info().Str("dialect", m.DB.Dialector.Name()).Msg("Connected to history database")
	return nil
}

func ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// GetPostgresDB returns a connection to the Postgres database.
func (m *Manager) GetPostgresDB() (*gorm.DB, error) {
	m.Logger.Debug().Msg("Connecting to Postgres DB")

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  m.cfg.DSN,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// GetSqliteDB returns a connection to a SQLite database.
// If path is empty, uses an in-memory database dumped to DumpPath on Close.
func (m *Manager) GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if path == "" {
		dsn = "file::memory:?cache=shared"
		m.ShouldDump = m.cfg.DumpPath != ""
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if path == "" {
		m.Logger.Info().Msg("Using local SQLite DB in memory")
	} else {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite DB")
	}

	pragmas := []string{
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Setup migrates the schema.
func (m *Manager) Setup() error {
	m.Logger.Info().Msg("Migrating history schema")
	if err := m.DB.AutoMigrate(Models...); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Attach records the runs and failures of pm. Hooks run on the playback goroutine.
func (m *Manager) Attach(pm *playback.Manager) {
	ctrl := pm.Controller()

	pm.OnEnable(func() {
		m.BeginRun(ctrl.Path())
	})
	pm.OnFailure(func(err *playback.CommandError) {
		m.RecordCommandFailure(err)
	})
	pm.OnDisable(func() {
		var checksums map[string]uint64
		if tl := ctrl.Timeline(); tl != nil {
			checksums = tl.Checksums
		}
		m.EndRun(ctrl.CurrentFrameInTas(), ctrl.TotalFrames(), checksums)
	})
	pm.OnLoadFailure(func(path string, err error) {
		m.RecordLoadFailure(path, err)
	})
}

// BeginRun starts a new run record. An unfinished previous run is ended as stopped.
func (m *Manager) BeginRun(scriptPath string) {
	if m.current != nil {
		m.EndRun(m.current.Frames, m.current.TotalFrames, nil)
	}
	m.current = &Run{
		RunID:     uuid.NewString(),
		Script:    scriptPath,
		StartedAt: m.now().UTC(),
	}
	m.failed = false
	m.Logger.Debug().Str("runId", m.current.RunID).Str("script", scriptPath).Msg("Run started")
}

// CurrentRunID is the ID of the run in progress, "" between runs.
func (m *Manager) CurrentRunID() string {
	if m.current == nil {
		return ""
	}
	return m.current.RunID
}

// EndRun queues the run in progress. The outcome is failed after a command
// failure, completed when every frame played and stopped otherwise.
func (m *Manager) EndRun(frames, total int, checksums map[string]uint64) {
	run := m.current
	if run == nil {
		return
	}
	m.current = nil

	run.EndedAt = m.now().UTC()
	run.Frames = frames
	run.TotalFrames = total
	switch {
	case m.failed:
		run.Outcome = OutcomeFailed
	case total > 0 && frames >= total:
		run.Outcome = OutcomeCompleted
	default:
		run.Outcome = OutcomeStopped
	}
	if checksums != nil {
		run.Checksums = encodeChecksums(checksums)
	}

	m.runs.Push(*run)
	m.Logger.Debug().Str("runId", run.RunID).Str("outcome", string(run.Outcome)).
		Int("frames", frames).Int("total", total).Msg("Run ended")
}

// RecordCommandFailure queues a runtime command failure of the run in progress.
func (m *Manager) RecordCommandFailure(err *playback.CommandError) {
	m.failed = true
	f := Failure{
		Time:    m.now().UTC(),
		RunID:   m.CurrentRunID(),
		Kind:    FailureCommand,
		Command: err.Command,
		File:    err.File,
		Line:    err.Line,
		Frame:   err.Frame,
		Message: err.Err.Error(),
	}
	if m.current != nil {
		f.Script = m.current.Script
	}
	m.failures.Push(f)
}

// RecordLoadFailure queues a script that could not be loaded.
func (m *Manager) RecordLoadFailure(scriptPath string, err error) {
	f := Failure{
		Time:    m.now().UTC(),
		RunID:   m.CurrentRunID(),
		Kind:    FailureLoad,
		Script:  scriptPath,
		Message: err.Error(),
	}
	var loadErr *script.LoadError
	if errors.As(err, &loadErr) && len(loadErr.Stack) > 0 {
		if raw, mErr := json.Marshal(loadErr.Stack); mErr == nil {
			f.Stack = datatypes.JSON(raw)
		}
	}
	m.failures.Push(f)
}

func encodeChecksums(checksums map[string]uint64) datatypes.JSON {
	hex := make(map[string]string, len(checksums))
	for file, sum := range checksums {
		hex[file] = fmt.Sprintf("%016x", sum)
	}
	raw, err := json.Marshal(hex)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// Start launches the background writer.
func (m *Manager) Start() {
	m.stopChan = make(chan struct{})
	m.writerDone = make(chan struct{})

	go func() {
		defer close(m.writerDone)
		ticker := time.NewTicker(m.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.Flush()
			}
		}
	}()
}

// Flush writes every queued record now.
func (m *Manager) Flush() {
	if !m.IsValid {
		return
	}
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	writeQueue(m.DB, m.runs, "runs", m.Logger)
	writeQueue(m.DB, m.failures, "failures", m.Logger)
}

// writeQueue writes all items from a queue in one transaction. Items are
// pushed back when the write fails.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log zerolog.Logger) {
	if q.Len() == 0 {
		return
	}

	tx := db.Begin()
	items := q.GetAndEmpty()
	if err := tx.Create(&items).Error; err != nil {
		log.Error().Err(err).Str("table", name).Int("count", len(items)).Msg("Error writing history")
		tx.Rollback()
		q.Push(items...)
		return
	}
	if err := tx.Commit().Error; err != nil {
		log.Error().Err(err).Str("table", name).Msg("Error committing history")
		q.Push(items...)
		return
	}
	log.Trace().Str("table", name).Int("count", len(items)).Msg("History written")
}

// Close stops the writer, writes what is left and dumps an in-memory
// database when DumpPath is set.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() {
		if m.stopChan != nil {
			close(m.stopChan)
			<-m.writerDone
		}
	})
	m.Flush()

	var err error
	if m.ShouldDump {
		err = m.DumpMemoryToDisk()
	}
	if m.SqlDB != nil {
		if cErr := m.SqlDB.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}
	return err
}

// DumpMemoryToDisk vacuums the in-memory database to DumpPath.
func (m *Manager) DumpMemoryToDisk() error {
	if m.cfg.DumpPath == "" {
		return fmt.Errorf("sqlite dump path not set")
	}

	if _, err := os.Stat(m.cfg.DumpPath); err == nil {
		if err := os.Remove(m.cfg.DumpPath); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	start := time.Now()
	if err := m.DB.Exec("VACUUM INTO ?", m.cfg.DumpPath).Error; err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %w", err)
	}
	m.Logger.Debug().Dur("duration", time.Since(start)).Str("path", m.cfg.DumpPath).Msg("Dumped history DB to disk")
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (m *Manager) RecentRuns(limit int) ([]Run, error) {
	var runs []Run
	err := m.DB.Order("started_at desc, id desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// FailuresOf returns the failures recorded for a run in time order.
func (m *Manager) FailuresOf(runID string) ([]Failure, error) {
	var failures []Failure
	err := m.DB.Where("run_id = ?", runID).Order("time, id").Find(&failures).Error
	return failures, err
}
