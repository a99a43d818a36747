package history

import (
	"time"

	"gorm.io/datatypes"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// FailureKind separates load failures from runtime command failures.
type FailureKind string

const (
	FailureLoad    FailureKind = "load"
	FailureCommand FailureKind = "command"
)

// Run is one playback of a script, from EnableRun to DisableRun.
type Run struct {
	ID          uint           `json:"id" gorm:"primarykey;autoIncrement"`
	RunID       string         `json:"runId" gorm:"size:36;uniqueIndex"`
	Script      string         `json:"script" gorm:"size:1024;index"`
	StartedAt   time.Time      `json:"startedAt" gorm:"index"`
	EndedAt     time.Time      `json:"endedAt"`
	Frames      int            `json:"frames"`
	TotalFrames int            `json:"totalFrames"`
	Outcome     Outcome        `json:"outcome" gorm:"size:16;index"`
	Checksums   datatypes.JSON `json:"checksums"`
}

func (*Run) TableName() string {
	return "runs"
}

// Failure is a script that could not be loaded or a command that stopped a run.
type Failure struct {
	ID      uint           `json:"id" gorm:"primarykey;autoIncrement"`
	Time    time.Time      `json:"time" gorm:"index"`
	RunID   string         `json:"runId" gorm:"size:36;index"`
	Kind    FailureKind    `json:"kind" gorm:"size:16;index"`
	Script  string         `json:"script" gorm:"size:1024"`
	Command string         `json:"command" gorm:"size:512"`
	File    string         `json:"file" gorm:"size:1024"`
	Line    int            `json:"line"`
	Frame   int            `json:"frame"`
	Message string         `json:"message"`
	Stack   datatypes.JSON `json:"stack"`
}

func (*Failure) TableName() string {
	return "failures"
}

// Models are migrated by Setup.
var Models = []any{
	&Run{},
	&Failure{},
}
