package model

import "time"

// Stage names used as the second half of the (item, stage) result key
const (
	StageRelevance  = "relevance"
	StageDomain     = "domain"
	StageExtract    = "extract"
	StageValidate   = "validate"
	StageAttribute  = "attribute"
	StageRegulation = "regulation"
)

// Stages lists the classification stages in pipeline order
var Stages = []string{
	StageRelevance,
	StageDomain,
	StageExtract,
	StageValidate,
	StageAttribute,
	StageRegulation,
}

// ResultStatus is the outcome of classifying one item
type ResultStatus string

const (
	StatusLabeled      ResultStatus = "labeled"      // Label is a member of the stage vocabulary
	StatusRejected     ResultStatus = "rejected"     // Oracle kept answering outside the vocabulary
	StatusError        ResultStatus = "error"        // Oracle failed after all retries
	StatusUnclassified ResultStatus = "unclassified" // Run stopped before the item was judged
)

// Terminal reports whether a result of this status is skipped on re-entry.
// Error results are retried by a restarted run.
func (s ResultStatus) Terminal() bool {
	return s == StatusLabeled || s == StatusRejected
}

// Blocked reports whether the item was judged but cannot advance past its
// stage. Unclassified items are pending, not blocked.
func (s ResultStatus) Blocked() bool {
	return s == StatusError || s == StatusRejected
}

// Result is one stage's annotation of one item (record, feature or feature/regulation pair).
// A stage keeps at most one result per item: re-running overwrites it.
type Result struct {
	ItemID    string       `json:"item_id"`
	Stage     string       `json:"stage"`
	Label     string       `json:"label,omitempty"`
	Rationale string       `json:"rationale,omitempty"`
	Status    ResultStatus `json:"status"`
	Review    bool         `json:"review,omitempty"` // Needs human or second-pass review
	Attempts  int          `json:"attempts"`
	Error     string       `json:"error,omitempty"`
	RunID     string       `json:"run_id,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Is reports whether the result labels the item with label
func (r Result) Is(label string) bool {
	return r.Status == StatusLabeled && r.Label == label
}

// Run records one execution of a stage
type Run struct {
	ID         string    `json:"id"`
	Stage      string    `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Items      int       `json:"items"`
	Skipped    int       `json:"skipped"`
	Labeled    int       `json:"labeled"`
	Rejected   int       `json:"rejected"`
	Errored    int       `json:"errored"`
	Canceled   bool      `json:"canceled,omitempty"`
}
