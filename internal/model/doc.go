// Package model defines the in-memory records that flow through a dispatch run.
//
// NormalizedResult and CorrespondingResult mirror records owned by the
// source-of-record system and are read-only here, apart from ExportStatus.
// EncodedRecord is the resolved projection handed to the encoders, and
// DispatchMetadata is the per-stream state persisted between runs.
//
// Absent optional values are represented by Go zero values (empty strings,
// zero time.Time). Encoders render them as blanks or zeros.
package model
