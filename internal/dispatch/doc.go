// Package dispatch runs one export stream end to end.
//
// A run moves through Fetching, Validating, DateResolving, Encoding,
// Uploading, Verifying and Reconciling to Done. Any failure up to and
// including Verifying aborts the run: nothing is reconciled and the
// sequence number is not advanced, so a retried run picks up the same
// source records. A failure while Reconciling leaves the delivered file and
// the advanced sequence number in place; RetryReconciliation repeats only
// the status write-back.
//
// Runs of different streams may proceed concurrently. A second run of a
// stream that is already running is refused with ErrStreamBusy.
package dispatch
