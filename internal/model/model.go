// Package model defines the bitemporal data model shared by GraphStore,
// VectorIndex, SearchService, and JobQueue: Entity, Relation, and EmbedJob.
package model

import (
	"time"

	"eve.evalgo.org/memory/internal/metadata"
)

// Entity is a node with a human-readable name, type tag, and an ordered
// list of textual observations.
type Entity struct {
	ID           string
	Name         string
	EntityType   string
	Observations []string

	// Embedding pointer; Vector is nil when no embedding has been generated.
	Vector      []float32
	Model       string
	LastUpdated *time.Time

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
	ValidFrom time.Time
	ValidTo   *time.Time
}

// IsCurrent reports whether the row is the currently-valid version.
func (e Entity) IsCurrent() bool { return e.ValidTo == nil }

// Relation is a directed typed edge between two entity versions.
type Relation struct {
	ID           string
	From         string
	To           string
	RelationType string
	Strength     float64
	Confidence   float64
	Metadata     metadata.Value

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
	ValidFrom time.Time
	ValidTo   *time.Time

	// DecayMetadata carries the pre-decay original confidence when the
	// relation was produced by GetDecayedGraph; nil otherwise.
	DecayMetadata *DecayMetadata
}

// DecayMetadata preserves the original confidence value when
// GetDecayedGraph replaces Confidence with a decayed figure.
type DecayMetadata struct {
	OriginalConfidence float64
	AgeDays            float64
	HalfLifeDays       float64
}

// IsCurrent reports whether the edge is the currently-valid version.
func (r Relation) IsCurrent() bool { return r.ValidTo == nil }

// DefaultStrength is the default Relation.Strength when a caller omits it.
const DefaultStrength = 0.9

// DefaultConfidence is the default Relation.Confidence when a caller
// omits it.
const DefaultConfidence = 0.95

// JobStatus enumerates EmbedJob lifecycle states.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ErrorCategory classifies a job failure for retry policy purposes.
type ErrorCategory string

const (
	ErrorTransient ErrorCategory = "transient"
	ErrorPermanent ErrorCategory = "permanent"
	ErrorCritical  ErrorCategory = "critical"
)

// EmbedJob is a durable work item tracked by a jobqueue.Queue.
type EmbedJob struct {
	ID            string
	EntityUID     string
	Model         string
	EntityVersion string
	Status        JobStatus
	Priority      int
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	Attempts      int
	MaxAttempts   int
	LockOwner     string
	LockUntil     *time.Time
	Error         string
	ErrorCategory ErrorCategory
	ErrorStack    string
	Permanent     bool
}

// EntityInput is the caller-supplied shape for CreateEntities.
type EntityInput struct {
	Name         string
	EntityType   string
	Observations []string
}

// ObservationDelta names the observations to add or delete for one entity.
type ObservationDelta struct {
	EntityName   string
	Observations []string
}

// ObservationResult reports the observations actually appended by
// AddObservations for one entity.
type ObservationResult struct {
	EntityName        string
	AddedObservations []string
}

// RelationInput is the caller-supplied shape for CreateRelations.
type RelationInput struct {
	From         string
	To           string
	RelationType string
	Strength     float64
	Confidence   float64
	Metadata     metadata.Value
}
