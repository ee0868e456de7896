package model

import "time"

// Stage is a state of a dispatch run.
type Stage string

const (
	StageFetching      Stage = "Fetching"
	StageValidating    Stage = "Validating"
	StageDateResolving Stage = "DateResolving"
	StageEncoding      Stage = "Encoding"
	StageUploading     Stage = "Uploading"
	StageVerifying     Stage = "Verifying"
	StageReconciling   Stage = "Reconciling"
	StageDone          Stage = "Done"
	StageAborted       Stage = "Aborted"
)

// DispatchMetadata is persisted per export stream once a file is durable.
type DispatchMetadata struct {
	StreamKey      string
	SequenceNumber int64
	CreatedAt      time.Time
	Checksum       string
	FileName       string
	RowCount       int
}

// HeaderParams are the values rendered into an output file header.
type HeaderParams struct {
	SequenceNumber int64
	FileDate       time.Time
	RecordCount    int
}

// ExportBatch groups the encoded records of one run with their header.
// It lives only for the duration of the run.
type ExportBatch struct {
	RunID    string
	Stream   string
	FileName string
	Header   HeaderParams
	Records  []EncodedRecord
}

// Violation is one schema or layout constraint a value failed.
type Violation struct {
	Field   string   `json:"field"`
	Message string   `json:"message"`
	Params  []string `json:"params,omitempty"`
}
