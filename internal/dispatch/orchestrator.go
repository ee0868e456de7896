package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/roach88/resultexport/internal/codes"
	"github.com/roach88/resultexport/internal/corresponding"
	"github.com/roach88/resultexport/internal/delivery"
	"github.com/roach88/resultexport/internal/demographics"
	"github.com/roach88/resultexport/internal/encode"
	"github.com/roach88/resultexport/internal/export"
	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/normalize"
	"github.com/roach88/resultexport/internal/reconcile"
	"github.com/roach88/resultexport/internal/schema"
	"github.com/roach88/resultexport/internal/sequence"
	"github.com/roach88/resultexport/internal/source"
	"github.com/roach88/resultexport/internal/telemetry"
	"github.com/roach88/resultexport/internal/transfer"
)

// Quarantine reasons reported on record-quarantined events.
const (
	ReasonValidation      = "validation"
	ReasonNoCorresponding = "no-corresponding-test"
)

// Report describes one run. It is returned alongside any error, filled in
// as far as the run got.
type Report struct {
	RunID  string `json:"runId"`
	Stream string `json:"stream"`
	// Stage is the last stage reached: Done on success, Aborted when the
	// run failed before delivery completed, Reconciling when only the
	// status write-back failed.
	Stage model.Stage `json:"stage"`

	FileName       string `json:"fileName,omitempty"`
	Path           string `json:"path,omitempty"`
	SequenceNumber int64  `json:"sequenceNumber,omitempty"`
	Checksum       string `json:"checksum,omitempty"`

	Fetched     int      `json:"fetched"`
	Exported    []string `json:"exported,omitempty"`
	Quarantined []string `json:"quarantined,omitempty"`
	// Unresolved lists exported ids whose corresponding date was missing.
	Unresolved []string `json:"unresolved,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	ExportedAt time.Time `json:"exportedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Orchestrator runs dispatches.
type Orchestrator struct {
	streams   *export.Streams
	tables    *codes.Tables
	validator *schema.Validator
	source    source.Client
	files     transfer.Client
	metadata  sequence.MetadataStore

	sink              telemetry.Sink
	clock             Clock
	ids               RunIDGenerator
	chunkSize         int
	lookupConcurrency int
	pageSize          int

	guard *guard
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithSink(s telemetry.Sink) Option { return func(o *Orchestrator) { o.sink = s } }

func WithClock(c Clock) Option { return func(o *Orchestrator) { o.clock = c } }

func WithRunIDs(g RunIDGenerator) Option { return func(o *Orchestrator) { o.ids = g } }

// WithChunkSize sets the status write-back chunk size.
// Default: reconcile.DefaultChunkSize
func WithChunkSize(n int) Option { return func(o *Orchestrator) { o.chunkSize = n } }

// WithLookupConcurrency runs up to n corresponding lookups at once. The
// source client must be safe for concurrent use when n > 1.
func WithLookupConcurrency(n int) Option { return func(o *Orchestrator) { o.lookupConcurrency = n } }

// WithPageSize sets the page size requested when fetching records.
func WithPageSize(n int) Option { return func(o *Orchestrator) { o.pageSize = n } }

// New creates an Orchestrator. The source, transfer and metadata
// collaborators are used as given; wrap them in their retrying decorators
// first where retries are wanted.
func New(
	streams *export.Streams,
	tables *codes.Tables,
	validator *schema.Validator,
	src source.Client,
	files transfer.Client,
	metadata sequence.MetadataStore,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		streams:           streams,
		tables:            tables,
		validator:         validator,
		source:            src,
		files:             files,
		metadata:          metadata,
		sink:              telemetry.Nop(),
		clock:             SystemClock{},
		ids:               UUIDv7Generator{},
		chunkSize:         reconcile.DefaultChunkSize,
		lookupConcurrency: 1,
		guard:             newGuard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Streams returns the configured stream keys in sorted order.
func (o *Orchestrator) Streams() []string { return o.streams.Keys() }

// Running returns the streams with a run in progress, sorted.
func (o *Orchestrator) Running() []string {
	keys := o.guard.list()
	sort.Strings(keys)
	return keys
}

// Run dispatches streamKey once. The returned error is a *failure.Error
// naming the failed stage, or wraps ErrStreamBusy.
func (o *Orchestrator) Run(ctx context.Context, streamKey string) (Report, error) {
	rep := Report{
		RunID:     o.ids.Generate(),
		Stream:    streamKey,
		StartedAt: o.clock.Now(),
	}

	release, ok := o.guard.acquire(streamKey)
	if !ok {
		return rep, fmt.Errorf("dispatch %s: %w", streamKey, ErrStreamBusy)
	}
	defer release()

	err := o.run(ctx, &rep)
	rep.FinishedAt = o.clock.Now()

	fields := telemetry.Fields{
		"stream":      streamKey,
		"runId":       rep.RunID,
		"stage":       string(rep.Stage),
		"fetched":     rep.Fetched,
		"exported":    len(rep.Exported),
		"quarantined": len(rep.Quarantined),
	}
	if err != nil {
		fields["error"] = err
		if k, ok := failure.KindOf(err); ok {
			fields["kind"] = string(k)
		}
		o.sink.Event(telemetry.EventDispatchFailed, fields)
		return rep, err
	}
	fields["file"] = rep.FileName
	fields["sequenceNumber"] = rep.SequenceNumber
	o.sink.Event(telemetry.EventDispatchCompleted, fields)
	return rep, nil
}

func (o *Orchestrator) run(ctx context.Context, rep *Report) error {
	fail := func(err error, stage model.Stage, fallback failure.Kind) error {
		rep.Stage = model.StageAborted
		return failure.AtStage(err, stage, rep.Stream, fallback)
	}

	stream, ok := o.streams.Lookup(rep.Stream)
	if !ok {
		return fail(failure.New(failure.KindConfig, fmt.Sprintf("unknown stream %q", rep.Stream)),
			model.StageFetching, failure.KindConfig)
	}
	enc, err := encode.ForStream(stream, o.sink)
	if err != nil {
		return fail(err, model.StageFetching, failure.KindConfig)
	}

	// Fetching
	o.enter(rep, model.StageFetching)
	raw, err := o.source.FetchUnprocessed(ctx, source.UnprocessedQuery{
		Stream:       stream.Key,
		ProductCodes: stream.ProductCodes,
		Statuses:     stream.Statuses,
		PageSize:     o.pageSize,
	})
	if err != nil {
		details := failure.Details{Stream: stream.Key}
		var se *source.Error
		if errors.As(err, &se) {
			details.StatusCode = se.StatusCode
		}
		return fail(failure.Wrap(failure.KindSource, "fetch unprocessed records", err).WithDetails(details),
			model.StageFetching, failure.KindSource)
	}
	rep.Fetched = len(raw)
	records := make([]model.NormalizedResult, 0, len(raw))
	for _, r := range raw {
		records = append(records, normalize.Result(r, o.tables))
	}

	// Validating
	o.enter(rep, model.StageValidating)
	valid := make([]model.NormalizedResult, 0, len(records))
	for _, r := range records {
		violations, err := o.validator.Validate(stream.Schema, r)
		if err != nil {
			return fail(err, model.StageValidating, failure.KindConfig)
		}
		if len(violations) > 0 {
			o.quarantine(rep, r, ReasonValidation, violations)
			continue
		}
		valid = append(valid, r)
	}

	// DateResolving
	o.enter(rep, model.StageDateResolving)
	resolver := corresponding.NewResolver(o.tables, o.source, o.sink, o.lookupConcurrency)
	resolution, err := resolver.Resolve(ctx, stream.Key, valid)
	if err != nil {
		return fail(err, model.StageDateResolving, failure.KindSource)
	}
	kept, excluded := resolution.Apply(valid)
	for _, r := range excluded {
		o.quarantine(rep, r, ReasonNoCorresponding, nil)
	}
	rep.Unresolved = resolution.Unresolved

	// Encoding
	o.enter(rep, model.StageEncoding)
	seqs := sequence.NewService(o.metadata, o.files)
	last, err := seqs.GetNextSequenceNumber(ctx, stream.Key)
	if err != nil {
		return fail(err, model.StageEncoding, failure.KindMetadata)
	}
	fileDate := o.clock.Now()
	batch := model.ExportBatch{
		RunID:  rep.RunID,
		Stream: stream.Key,
		Header: model.HeaderParams{
			SequenceNumber: last + 1,
			FileDate:       fileDate,
			RecordCount:    len(kept),
		},
		Records: o.encodeRecords(kept, resolution),
	}
	batch.FileName, err = seqs.FileName(ctx, stream, batch.Header.SequenceNumber, fileDate)
	if err != nil {
		return fail(err, model.StageEncoding, failure.KindEncoding)
	}
	payload, err := enc.CreateFile(batch.Records, batch.Header)
	if err != nil {
		return fail(err, model.StageEncoding, failure.KindEncoding)
	}
	rep.SequenceNumber = batch.Header.SequenceNumber
	rep.FileName = batch.FileName
	rep.Path = path.Join(stream.Dir, batch.FileName)

	// Uploading
	o.enter(rep, model.StageUploading)
	verifier := delivery.NewVerifier(o.files, o.sink)
	content := []byte(payload)
	if err := verifier.PutFile(ctx, rep.Path, content); err != nil {
		return fail(err, model.StageUploading, failure.KindDelivery)
	}

	// Verifying
	o.enter(rep, model.StageVerifying)
	checksum, err := verifier.VerifyFileContents(ctx, rep.Path, content)
	if err != nil {
		return fail(err, model.StageVerifying, failure.KindDelivery)
	}
	rep.Checksum = checksum

	meta := model.DispatchMetadata{
		StreamKey:      stream.Key,
		SequenceNumber: batch.Header.SequenceNumber,
		CreatedAt:      fileDate,
		Checksum:       checksum,
		FileName:       rep.Path,
		RowCount:       len(batch.Records),
	}
	if err := seqs.UpdateSequenceNumber(ctx, meta); err != nil {
		if werr := verifier.Withdraw(ctx, rep.Path); werr != nil {
			err = failure.Wrap(failure.KindMetadata, "sequence not persisted and upload left in place", errors.Join(err, werr)).
				WithDetails(failure.Details{Path: rep.Path})
		}
		return fail(err, model.StageVerifying, failure.KindMetadata)
	}
	o.sink.Event(telemetry.EventSequenceUpdated, telemetry.Fields{
		"stream":         stream.Key,
		"sequenceNumber": meta.SequenceNumber,
		"file":           rep.Path,
	})

	rep.Exported = make([]string, 0, len(kept))
	for _, r := range kept {
		rep.Exported = append(rep.Exported, r.ID)
	}
	rep.ExportedAt = o.clock.Now()

	// Reconciling
	o.enter(rep, model.StageReconciling)
	if err := o.reconcile(ctx, *rep); err != nil {
		return failure.AtStage(err, model.StageReconciling, rep.Stream, failure.KindReconciliation)
	}

	o.enter(rep, model.StageDone)
	return nil
}

// RetryReconciliation repeats the status write-back of a run whose file was
// delivered but whose reconciliation failed. Writes are idempotent, so ids
// that already committed are written again harmlessly.
func (o *Orchestrator) RetryReconciliation(ctx context.Context, rep Report) error {
	if rep.Stage != model.StageReconciling {
		return failure.New(failure.KindConfig,
			fmt.Sprintf("run %s ended in %s, not Reconciling", rep.RunID, rep.Stage)).
			WithDetails(failure.Details{Stream: rep.Stream})
	}
	if err := o.reconcile(ctx, rep); err != nil {
		return failure.AtStage(err, model.StageReconciling, rep.Stream, failure.KindReconciliation)
	}
	o.sink.Info("reconciliation retried", telemetry.Fields{"stream": rep.Stream, "runId": rep.RunID})
	return nil
}

func (o *Orchestrator) reconcile(ctx context.Context, rep Report) error {
	return reconcile.New(o.source, rep.Stream, o.chunkSize, o.sink).
		Reconcile(ctx, rep.Exported, rep.Quarantined, rep.ExportedAt)
}

func (o *Orchestrator) enter(rep *Report, stage model.Stage) {
	rep.Stage = stage
	o.sink.Debug("dispatch stage", telemetry.Fields{
		"stream": rep.Stream,
		"runId":  rep.RunID,
		"stage":  string(stage),
	})
}

func (o *Orchestrator) quarantine(rep *Report, r model.NormalizedResult, reason string, violations []model.Violation) {
	// A record without an id cannot have its status written back.
	if r.ID != "" {
		rep.Quarantined = append(rep.Quarantined, r.ID)
	}
	f := telemetry.Fields{
		"stream":   rep.Stream,
		"recordId": r.ID,
		"reason":   reason,
	}
	if len(violations) > 0 {
		f["violations"] = violations
	}
	o.sink.Event(telemetry.EventRecordQuarantined, f)
}

// encodeRecords resolves demographics and codes for each kept record.
func (o *Orchestrator) encodeRecords(kept []model.NormalizedResult, res corresponding.Resolution) []model.EncodedRecord {
	out := make([]model.EncodedRecord, 0, len(kept))
	for _, r := range kept {
		gender := demographics.ResolveGender(r.Title, r.Gender, r.DriverNumber)
		testCode, _ := o.tables.TestCode(r.ProductCode)
		resultCode, _ := o.tables.ResultCode(r.Status)
		out = append(out, model.EncodedRecord{
			Result:     r,
			TestDate:   res.TestDate(r),
			Gender:     gender,
			Title:      demographics.ResolveTitle(r.Title, gender),
			TestCode:   testCode,
			ResultCode: resultCode,
			Language:   o.tables.Language(r.TextLanguage),
		})
	}
	return out
}
