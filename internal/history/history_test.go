package history

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/framestep/tasbridge/internal/commands"
	"github.com/framestep/tasbridge/internal/playback"
	"github.com/framestep/tasbridge/internal/script"
	"github.com/framestep/tasbridge/internal/sim"
	"github.com/framestep/tasbridge/internal/toast"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	m := NewManager(zerolog.Nop(), Config{})
	m.DB = db
	require.NoError(t, m.Connect())
	require.NoError(t, m.Setup())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

type player struct {
	sim *sim.Simulation
	mgr *playback.Manager
}

func newPlayer(t *testing.T, hist *Manager, content string) *player {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/tas/main.tas", []byte(content), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	targets := commands.NewTargets()
	s, err := sim.New(sim.Config{Logger: logger}, targets)
	require.NoError(t, err)

	mgr := playback.NewManager(s, playback.Options{Logger: logger})
	vocab := commands.New(commands.Deps{Console: s, Targets: targets, Logger: logger, SetUnsafe: mgr.SetAllowUnsafe})
	loader, err := script.New(script.Config{
		Fs:      fs,
		Logger:  logger,
		Toaster: toast.NewLog(logger),
		OnAbort: mgr.DisableRunLater,
	}, vocab.Definitions()...)
	require.NoError(t, err)

	mgr.SetLoader(loader)
	mgr.SetPath("/tas/main.tas")
	hist.Attach(mgr)
	return &player{sim: s, mgr: mgr}
}

func (p *player) tick(n int) {
	for range n {
		p.sim.Tick()
		p.mgr.Update()
		p.mgr.UpdateMeta()
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(zerolog.Nop(), Config{})
	assert.Equal(t, DriverSQLite, m.cfg.Driver)
	assert.Equal(t, 2*time.Second, m.cfg.FlushInterval)
	assert.False(t, m.IsValid)
}

func TestConnect_UnknownDriver(t *testing.T) {
	m := NewManager(zerolog.Nop(), Config{Driver: "oracle"})
	err := m.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
	assert.False(t, m.IsValid)
}

func TestConnect_SqliteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	m := NewManager(zerolog.Nop(), Config{Path: path})
	require.NoError(t, m.Connect())
	require.NoError(t, m.Setup())
	assert.True(t, m.IsValid)
	assert.False(t, m.ShouldDump)

	m.BeginRun("/tas/a.tas")
	m.EndRun(3, 3, nil)
	require.NoError(t, m.Close())
	assert.FileExists(t, path)
}

func TestRun_Completed(t *testing.T) {
	m := newTestManager(t)
	p := newPlayer(t, m, "5\n")

	p.mgr.EnableRun()
	p.tick(8)
	require.Equal(t, playback.Disabled, p.mgr.State())

	m.Flush()
	runs, err := m.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, "/tas/main.tas", run.Script)
	assert.Equal(t, OutcomeCompleted, run.Outcome)
	assert.Equal(t, 5, run.Frames)
	assert.Equal(t, 5, run.TotalFrames)
	assert.Len(t, run.RunID, 36)
	assert.False(t, run.StartedAt.IsZero())
	assert.Contains(t, run.Checksums.String(), "/tas/main.tas")
	assert.Empty(t, m.CurrentRunID())
}

func TestRun_Stopped(t *testing.T) {
	m := newTestManager(t)
	p := newPlayer(t, m, "50\n")

	p.mgr.EnableRun()
	p.tick(4)
	p.mgr.DisableRun()

	m.Flush()
	runs, err := m.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, OutcomeStopped, runs[0].Outcome)
	assert.Equal(t, 4, runs[0].Frames)
	assert.Equal(t, 50, runs[0].TotalFrames)
}

func TestRun_CommandFailure(t *testing.T) {
	m := newTestManager(t)
	p := newPlayer(t, m, "2\nConsole nope\n2\n")

	p.mgr.EnableRun()
	p.tick(5)
	require.Equal(t, playback.Disabled, p.mgr.State())

	m.Flush()
	runs, err := m.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, OutcomeFailed, runs[0].Outcome)

	failures, err := m.FailuresOf(runs[0].RunID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	f := failures[0]
	assert.Equal(t, FailureCommand, f.Kind)
	assert.Equal(t, "/tas/main.tas", f.Script)
	assert.Equal(t, 2, f.Frame)
	assert.Equal(t, 2, f.Line)
	assert.Contains(t, f.Command, "Console")
	assert.Contains(t, f.Message, "nope")
}

func TestRun_LoadFailure(t *testing.T) {
	m := newTestManager(t)
	p := newPlayer(t, m, "1\nRead, missing.tas\n1\n")

	p.mgr.EnableRun()
	p.tick(2)
	require.Equal(t, playback.Disabled, p.mgr.State())

	m.Flush()
	runs, err := m.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, OutcomeStopped, runs[0].Outcome)
	assert.Zero(t, runs[0].TotalFrames)

	failures, err := m.FailuresOf(runs[0].RunID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, FailureLoad, failures[0].Kind)
	assert.Contains(t, failures[0].Message, "File not found")
}

func TestRecordLoadFailure_KeepsStack(t *testing.T) {
	m := newTestManager(t)

	m.RecordLoadFailure("/tas/a.tas", &script.LoadError{
		Toast: "dead loop",
		Stack: []string{"/tas/a.tas", "/tas/b.tas"},
		Err:   script.ErrDeadLoop,
	})
	m.Flush()

	var failures []Failure
	require.NoError(t, m.DB.Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Empty(t, failures[0].RunID)
	assert.JSONEq(t, `["/tas/a.tas","/tas/b.tas"]`, failures[0].Stack.String())
}

func TestBeginRun_EndsUnfinishedRun(t *testing.T) {
	m := newTestManager(t)

	m.BeginRun("/tas/a.tas")
	first := m.CurrentRunID()
	m.BeginRun("/tas/b.tas")
	assert.NotEqual(t, first, m.CurrentRunID())
	m.EndRun(10, 10, map[string]uint64{"/tas/b.tas": 0xff})
	m.Flush()

	runs, err := m.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	outcomes := map[string]Outcome{}
	for _, r := range runs {
		outcomes[r.Script] = r.Outcome
	}
	assert.Equal(t, OutcomeStopped, outcomes["/tas/a.tas"])
	assert.Equal(t, OutcomeCompleted, outcomes["/tas/b.tas"])
}

func TestEndRun_WithoutRunIsNoop(t *testing.T) {
	m := newTestManager(t)
	m.EndRun(1, 1, nil)
	assert.Zero(t, m.runs.Len())
}

func TestFlush_RequeuesOnError(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.DB.Migrator().DropTable(&Run{}))

	m.BeginRun("/tas/a.tas")
	m.EndRun(1, 2, nil)
	m.Flush()
	assert.Equal(t, 1, m.runs.Len(), "failed write stays queued")

	require.NoError(t, m.Setup())
	m.Flush()
	assert.Zero(t, m.runs.Len())

	runs, err := m.RecentRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestFlush_InvalidManagerKeepsQueue(t *testing.T) {
	m := NewManager(zerolog.Nop(), Config{})
	m.RecordLoadFailure("/tas/a.tas", errors.New("boom"))
	m.Flush()
	assert.Equal(t, 1, m.failures.Len())
}

func TestStart_WritesInBackground(t *testing.T) {
	m := newTestManager(t)
	m.cfg.FlushInterval = 10 * time.Millisecond
	m.Start()

	m.BeginRun("/tas/a.tas")
	m.EndRun(0, 0, nil)

	assert.Eventually(t, func() bool {
		return m.runs.Len() == 0
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, m.Close())
}

func TestDumpMemoryToDisk(t *testing.T) {
	m := newTestManager(t)
	m.cfg.DumpPath = filepath.Join(t.TempDir(), "dump.db")

	m.BeginRun("/tas/a.tas")
	m.EndRun(2, 2, nil)
	m.Flush()

	require.NoError(t, m.DumpMemoryToDisk())
	assert.FileExists(t, m.cfg.DumpPath)

	dumped, err := gorm.Open(sqlite.Open(m.cfg.DumpPath), &gorm.Config{})
	require.NoError(t, err)
	var count int64
	require.NoError(t, dumped.Model(&Run{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	sqlDB, err := dumped.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestDumpMemoryToDisk_NoPath(t *testing.T) {
	m := newTestManager(t)
	assert.Error(t, m.DumpMemoryToDisk())
}
