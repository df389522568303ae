package model

import "errors"

// Error taxonomy. Only ErrStore is fatal to a pipeline run.
var (
	// ErrIngestion marks malformed or missing source fields; records pass through with empty fields
	ErrIngestion = errors.New("ingestion error")

	// ErrMergeConflict marks contradicting values under one DOI; both values are retained
	ErrMergeConflict = errors.New("merge conflict")

	// ErrClassification marks an oracle failure that outlived every retry
	ErrClassification = errors.New("classification error")

	// ErrSchemaViolation marks a label outside a closed vocabulary
	ErrSchemaViolation = errors.New("schema violation")

	// ErrStore marks a persistence failure
	ErrStore = errors.New("store error")
)
