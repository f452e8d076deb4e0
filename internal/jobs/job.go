// Package jobs orchestrates batch optimization runs: enumerating branch
// combinations, executing them on a bounded worker pool, and tracking
// lifecycle, progress and results per job.
package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/Belfering/QuantNexus-sub009/pkg/engine"
	"github.com/Belfering/QuantNexus-sub009/pkg/optimize"
	"github.com/Belfering/QuantNexus-sub009/pkg/strategy"
)

// Status is the lifecycle state of an optimization job. Complete,
// error and cancelled are terminal; a terminal job retains every
// accumulated branch result for later re-filtering.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// Progress tracks branch completion within a job
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// BranchResult is the terminal outcome of one branch combination.
// ErrorMessage and metrics are mutually exclusive: a branch either
// produced metrics or failed with an error. Failing results are kept
// alongside passing ones so callers can re-filter without re-running.
type BranchResult struct {
	BranchID           string          `json:"branchId"`
	Label              string          `json:"label"`
	ISMetrics          *engine.Metrics `json:"isMetrics,omitempty"`
	OOSMetrics         *engine.Metrics `json:"oosMetrics,omitempty"`
	Passed             bool            `json:"passed"`
	FailedRequirements []string        `json:"failedRequirements,omitempty"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
}

// Request is a batch-job submission: the tree plus the parameter space,
// split configuration and eligibility requirements
type Request struct {
	Tree         *strategy.Tree            `json:"tree"`
	Ranges       []optimize.ParameterRange `json:"parameterRanges,omitempty"`
	Choices      []optimize.TickerChoice   `json:"tickerChoices,omitempty"`
	Split        optimize.SplitConfig      `json:"split"`
	Requirements []optimize.Requirement    `json:"requirements,omitempty"`
	Run          engine.RunConfig          `json:"run"`
}

// Snapshot is a point-in-time view of a job safe to hand to callers
type Snapshot struct {
	ID          uuid.UUID      `json:"id"`
	Status      Status         `json:"status"`
	Progress    Progress       `json:"progress"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submittedAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Results     []BranchResult `json:"results,omitempty"`
}
