// Package harness runs dispatch scenarios described in YAML against an
// Orchestrator wired to in-memory collaborators.
//
// A scenario seeds the source with raw records, the metadata store with
// earlier deliveries and the transfer channel with existing files, then
// runs a flow of dispatches and reconciliation retries. Each step can
// state the outcome it expects, and assertions inspect the final state of
// the channel, the source and the metadata store. Delivered files can be
// compared byte for byte against golden files.
//
// Every run uses a fixed clock so file names, headers and timestamps are
// reproducible.
package harness
