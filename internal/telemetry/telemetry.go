// Package telemetry pushes playback samples and run summaries to InfluxDB.
package telemetry

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/framestep/tasbridge/internal/playback"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

const (
	BucketPlayback = "tas_playback"
	BucketRuns     = "tas_runs"
)

// DefaultBucketNames are created on connect when missing.
var DefaultBucketNames = []string{BucketPlayback, BucketRuns}

// ErrDisabled is returned by Connect when telemetry is switched off.
var ErrDisabled = errors.New("telemetry is disabled")

// Config configures a Manager.
type Config struct {
	Enabled bool
	URL     string // e.g. http://127.0.0.1:8086
	Token   string
	Org     string

	// BackupPath receives gzipped line protocol while InfluxDB is unreachable.
	BackupPath string

	// SampleEvery is the number of host frames between playback samples.
	SampleEvery int

	// RetentionDays applies to buckets created on connect.
	RetentionDays int
}

// Manager handles the InfluxDB connection and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger

	cfg        Config
	backupFile *os.File
	ticks      int
	lastState  string
}

// NewManager creates a manager. Call Connect before writing.
func NewManager(log zerolog.Logger, cfg Config) *Manager {
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = 60
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		BucketNames: DefaultBucketNames,
		Logger:      log,
		cfg:         cfg,
	}
}

// Connect establishes a connection to InfluxDB. When the server cannot be
// reached points go to the backup file instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL,
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	running, err := m.Client.Ping(pingCtx)
	cancel()

	if err != nil || !running {
		m.IsValid = false
		if m.cfg.BackupPath == "" {
			return fmt.Errorf("influxDB not reachable and no backup path set: %v", err)
		}
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.cfg.BackupPath).
				Msg("Failed to reach InfluxDB, writing to backup file")

			file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %w", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
		return nil
	}

	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.IsValid = true
	m.CreateWriters()
	m.Logger.Info().Str("url", m.cfg.URL).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgs := m.Client.OrganizationsAPI()

	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.Logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", m.cfg.Org).Msg("Error creating organization")
			return err
		}
	}

	for _, bucket := range m.BucketNames {
		if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, org, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: int64(m.cfg.RetentionDays) * 24 * 60 * 60,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

// CreateWriters creates a write API per bucket and logs their async errors.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		w := m.Client.WriteAPI(m.cfg.Org, bucket)
		m.Writers[bucket] = w

		go func(bucket string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucket).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, w.Errors())
	}
	m.Logger.Debug().Int("buckets", len(m.Writers)).Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := m.BackupWriter.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Active reports whether points go anywhere.
func (m *Manager) Active() bool {
	return m.IsValid || m.BackupWriter != nil
}

// Observe is called once per host frame with the latest snapshot. It writes
// a sample every SampleEvery frames and whenever the playback state changes.
func (m *Manager) Observe(state studioproto.State, speed float64) {
	if !m.Active() {
		return
	}
	m.ticks++
	changed := state.PlaybackState != m.lastState
	m.lastState = state.PlaybackState
	if !changed && m.ticks < m.cfg.SampleEvery {
		return
	}
	m.ticks = 0

	if err := m.WritePoint(BucketPlayback, PlaybackPoint(state, speed, time.Now())); err != nil {
		m.Logger.Debug().Err(err).Msg("Playback sample dropped")
	}
}

// Attach writes a summary point for every finished run of pm and one for
// every command failure.
func (m *Manager) Attach(pm *playback.Manager) {
	ctrl := pm.Controller()
	var started time.Time

	pm.OnEnable(func() {
		started = time.Now()
	})
	pm.OnFailure(func(err *playback.CommandError) {
		if !m.Active() {
			return
		}
		if wErr := m.WritePoint(BucketRuns, FailurePoint(ctrl.Path(), err, time.Now())); wErr != nil {
			m.Logger.Debug().Err(wErr).Msg("Failure point dropped")
		}
	})
	pm.OnDisable(func() {
		if !m.Active() {
			return
		}
		p := RunPoint(ctrl.Path(), ctrl.CurrentFrameInTas(), ctrl.TotalFrames(), time.Since(started), time.Now())
		if err := m.WritePoint(BucketRuns, p); err != nil {
			m.Logger.Debug().Err(err).Msg("Run point dropped")
		}
	})
}

// PlaybackPoint samples the playback position.
func PlaybackPoint(state studioproto.State, speed float64, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPoint("playback",
		map[string]string{
			"state": state.PlaybackState,
			"level": state.LevelName,
		},
		map[string]any{
			"frame": state.CurrentFrameInTas,
			"total": state.TotalFrames,
			"line":  state.CurrentLine,
			"speed": speed,
		},
		at)
}

// RunPoint summarises a finished run.
func RunPoint(scriptPath string, frames, total int, elapsed time.Duration, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPoint("run",
		map[string]string{"script": scriptPath},
		map[string]any{
			"frames":    frames,
			"total":     total,
			"completed": total > 0 && frames >= total,
			"seconds":   elapsed.Seconds(),
		},
		at)
}

// FailurePoint records a command that stopped a run.
func FailurePoint(scriptPath string, err *playback.CommandError, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPoint("command_failure",
		map[string]string{"script": scriptPath, "file": err.File},
		map[string]any{
			"command": err.Command,
			"line":    err.Line,
			"frame":   err.Frame,
		},
		at)
}

// Close flushes pending writes and releases the client and the backup file.
func (m *Manager) Close() error {
	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	var err error
	if m.BackupWriter != nil {
		err = m.BackupWriter.Close()
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		if cErr := m.backupFile.Close(); cErr != nil && err == nil {
			err = cErr
		}
		m.backupFile = nil
	}
	m.IsValid = false
	return err
}
