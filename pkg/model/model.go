// SPDX-License-Identifier: Apache-2.0

// Package model holds the data types shared by every partmove component:
// connection profiles, discovered partitions, table-type metadata, run
// history and checkpoints, and structured log entries.
package model

import (
	"time"

	"github.com/google/uuid"
)

// TableType identifies one of the supported legacy partitioned families.
type TableType string

const (
	TableTypePH TableType = "PH"
	TableTypeTH TableType = "TH"
	TableTypeED TableType = "ED"
	TableTypeRT TableType = "RT"
)

// DispatchMechanism describes how the parent table routes inserts to a child.
type DispatchMechanism string

const (
	DispatchTrigger DispatchMechanism = "trigger"
	DispatchRule    DispatchMechanism = "rule"
)

// DateColumnType describes the storage type of a partition's date column.
type DateColumnType string

const (
	DateColumnEpochMillis DateColumnType = "epoch_ms"
	DateColumnTimestamp   DateColumnType = "timestamp"
)

// SSLMode mirrors the libpq sslmode values a ConnectionConfig may use.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

// CompatibilityMode selects the session tuning profile the streaming COPY
// engine applies; auto applies the same settings as v9_3 and does not
// probe the server version.
type CompatibilityMode string

const (
	CompatibilityAuto CompatibilityMode = "auto"
	CompatibilityV93  CompatibilityMode = "v9_3"
	CompatibilityV16  CompatibilityMode = "v16"
)

// ConnectionConfig is one endpoint (source or target) of a profile.
type ConnectionConfig struct {
	Host     string
	Port     int
	DBName   string
	User     string
	Password string // plaintext in memory only; sealed at rest by the vault
	SSLMode  SSLMode
}

// ConnectionProfile is the stable, user-managed identity a run is started from.
type ConnectionProfile struct {
	ID          string
	Name        string
	Description string
	Source      ConnectionConfig
	Target      ConnectionConfig
	Compat      CompatibilityMode
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableTypeSpec is the static, per-family schema and dispatch metadata.
type TableTypeSpec struct {
	Code      TableType
	Columns   []ColumnDef
	DateType  DateColumnType
	Dispatch  DispatchMechanism
	StableKey []string // column names defining deterministic row order
}

// ColumnDef describes one column of a partitioned table family.
type ColumnDef struct {
	Name     string
	PGType   string
	Nullable bool
}

// PartitionDescriptor is one row yielded by partition discovery.
type PartitionDescriptor struct {
	ParentTable    string
	ChildTable     string
	Type           TableType
	FromDate       int64 // epoch millis, or epoch millis of truncated timestamp
	ToDate         int64
	EstimatedRows  int64
	ClusterIndex   bool
}

// EngineKind selects the per-partition data-movement routine.
type EngineKind string

const (
	EngineRowBatch     EngineKind = "row_batch"
	EngineStreamingCopy EngineKind = "streaming_copy"
)

// TruncateMode controls how the schema builder handles a non-empty target child.
type TruncateMode string

const (
	TruncateAuto    TruncateMode = "auto"
	TruncateConfirm TruncateMode = "confirm"
)

// RunPolicy carries the knobs that are fixed for the lifetime of a run.
type RunPolicy struct {
	Engine          EngineKind
	ContinueOnError bool
	TruncateMode    TruncateMode
}

// RunStatus is the lifecycle state of a MigrationRun.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// MigrationRun is the top-level history record for one activation of the engine.
type MigrationRun struct {
	ID                string
	ProfileID         string
	SessionID         string
	Status            RunStatus
	StartedAt         time.Time
	EndedAt           *time.Time
	TotalPartitions   int
	DonePartitions    int
	TotalRows         int64
	ErrorMessage      string
}

// NewSessionID returns a fresh session identifier for a run.
func NewSessionID() string {
	return uuid.NewString()
}

// CheckpointStatus is the lifecycle state of a single partition's checkpoint.
type CheckpointStatus string

const (
	CheckpointPending    CheckpointStatus = "pending"
	CheckpointInProgress CheckpointStatus = "in_progress"
	CheckpointCompleted  CheckpointStatus = "completed"
	CheckpointFailed     CheckpointStatus = "failed"
)

// Checkpoint records per-partition progress within a run, keyed by
// (RunID, PartitionName), enabling resume after an interruption.
type Checkpoint struct {
	RunID         string
	PartitionName string
	Status        CheckpointStatus
	RowsCopied    int64
	LastOffset    int64 // row-batch engine only; unused by the COPY engine
	UpdatedAt     time.Time
	Error         string
}

// LogLevel is the severity of a LogEntry.
type LogLevel string

const (
	LogDebug   LogLevel = "DEBUG"
	LogInfo    LogLevel = "INFO"
	LogSuccess LogLevel = "SUCCESS"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// LogEntry is one append-only structured log record.
type LogEntry struct {
	RunSessionID string
	Timestamp    time.Time
	Level        LogLevel
	Component    string
	Message      string
}
