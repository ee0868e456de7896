package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resultexport/internal/codes"
	"github.com/roach88/resultexport/internal/delivery"
	"github.com/roach88/resultexport/internal/export"
	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/normalize"
	"github.com/roach88/resultexport/internal/schema"
	"github.com/roach88/resultexport/internal/source"
	"github.com/roach88/resultexport/internal/telemetry"
	"github.com/roach88/resultexport/internal/testutil"
)

var runDate = time.Date(2019, 5, 28, 9, 0, 0, 0, time.UTC)

type fixture struct {
	src   *testutil.FakeSource
	files *testutil.MemoryTransfer
	meta  *testutil.MemoryMetadata
	sink  *testutil.RecordingSink
	orch  *Orchestrator
}

func newFixture(t *testing.T, results ...normalize.RawResult) *fixture {
	t.Helper()
	tables, err := codes.Default()
	require.NoError(t, err)
	validator, err := schema.New()
	require.NoError(t, err)

	f := &fixture{
		src:   testutil.NewFakeSource(results...),
		files: testutil.NewMemoryTransfer(),
		meta:  testutil.NewMemoryMetadata(),
		sink:  testutil.NewRecordingSink(),
	}
	f.orch = New(export.Default(), tables, validator, f.src, f.files, f.meta,
		WithSink(f.sink),
		WithClock(testutil.NewFixedClock(runDate)),
		WithRunIDs(testutil.NewFixedRunIDs()),
	)
	return f
}

func (f *fixture) lines(t *testing.T, p string) []string {
	t.Helper()
	content, ok := f.files.File(p)
	require.True(t, ok, "no file at %s; have %v", p, f.files.Paths())
	return strings.Split(string(content), "\r\n")
}

func learnerRaw(id, product, cert string) normalize.RawResult {
	return normalize.RawResult{
		ID:                id,
		CandidateID:       "cand-" + id,
		Title:             "Mr",
		FirstName:         "Tom",
		LastName:          "Jones",
		BirthDate:         "1980-11-02",
		DriverNumber:      "JONES801102W97YT",
		BookingReference:  "B-" + id,
		ProductCode:       product,
		Status:            "Pass",
		CertificateNumber: cert,
		StartTime:         "2019-05-27T10:00:00Z",
	}
}

func instructorRaw(id, candidate string) normalize.RawResult {
	return normalize.RawResult{
		ID:               id,
		CandidateID:      candidate,
		LastName:         "Evans",
		BirthDate:        "1975-03-14",
		DriverNumber:     "78294667",
		BookingReference: "B-" + id,
		PaymentReference: "900",
		ProductCode:      "ADIP1",
		Status:           "Pass",
		StartTime:        "2019-06-01T09:00:00Z",
		Address:          normalize.RawAddress{Line1: "1 High Street", Postcode: "CF10 1AA"},
	}
}

func kindAndStage(t *testing.T, err error) (failure.Kind, model.Stage) {
	t.Helper()
	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	return fe.Kind, fe.Stage
}

func TestRun_ThreeLearnerRecords(t *testing.T) {
	f := newFixture(t,
		learnerRaw("r-1", "CAR", "111111111"),
		learnerRaw("r-2", "MOTORCYCLE", "222"),
		learnerRaw("r-3", "CAR", "3"),
	)

	rep, err := f.orch.Run(context.Background(), "learner")
	require.NoError(t, err)

	assert.Equal(t, model.StageDone, rep.Stage)
	assert.Equal(t, int64(1), rep.SequenceNumber)
	assert.Equal(t, "DVTALN190528000001.txt", rep.FileName)
	assert.Equal(t, "learner/DVTALN190528000001.txt", rep.Path)
	assert.Equal(t, []string{"r-1", "r-2", "r-3"}, rep.Exported)
	assert.Empty(t, rep.Quarantined)

	lines := f.lines(t, rep.Path)
	require.Len(t, lines, 4, "one header line and three record lines")
	assert.Equal(t, "HDVSA28052019000001000003", lines[0])
	for _, l := range lines[1:] {
		assert.Len(t, l, 93)
		assert.Equal(t, "R", l[0:1])
		assert.Equal(t, "JONES801102W97YT", l[1:17])
		assert.Equal(t, "27052019", l[75:83])
		assert.Equal(t, "P", l[92:93])
	}
	assert.Equal(t, "01", lines[1][73:75])
	assert.Equal(t, "02", lines[2][73:75])
	assert.Equal(t, "111111111", lines[1][83:92])
	assert.Equal(t, "      222", lines[2][83:92])

	for _, id := range rep.Exported {
		assert.Equal(t, string(model.ExportProcessed), f.src.ExportStatus("learner", id))
	}

	content, _ := f.files.File(rep.Path)
	assert.Equal(t, delivery.Checksum(content), rep.Checksum)

	meta, ok, err := f.meta.Read(context.Background(), "learner")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.DispatchMetadata{
		StreamKey:      "learner",
		SequenceNumber: 1,
		CreatedAt:      runDate,
		Checksum:       rep.Checksum,
		FileName:       rep.Path,
		RowCount:       3,
	}, meta)

	assert.Len(t, f.sink.Events(telemetry.EventDispatchCompleted), 1)
	assert.Len(t, f.sink.Events(telemetry.EventSequenceUpdated), 1)
	assert.Len(t, f.sink.Events(telemetry.EventFileUploaded), 1)
}

func TestRun_QuarantinesInvalidRecords(t *testing.T) {
	bad := learnerRaw("r-bad", "CAR", "1")
	bad.BookingReference = ""
	f := newFixture(t, learnerRaw("r-1", "CAR", "1"), bad, learnerRaw("r-2", "CAR", "2"))

	rep, err := f.orch.Run(context.Background(), "learner")
	require.NoError(t, err)

	assert.Equal(t, []string{"r-1", "r-2"}, rep.Exported)
	assert.Equal(t, []string{"r-bad"}, rep.Quarantined)
	assert.Len(t, f.lines(t, rep.Path), 3)

	assert.Equal(t, string(model.ExportQuarantined), f.src.ExportStatus("learner", "r-bad"))
	assert.Equal(t, string(model.ExportProcessed), f.src.ExportStatus("learner", "r-1"))

	require.Len(t, f.src.Updates, 2)
	assert.Equal(t, model.ExportQuarantined, f.src.Updates[0].Status)
	assert.True(t, f.src.Updates[0].ExportedAt.IsZero())
	assert.Equal(t, model.ExportProcessed, f.src.Updates[1].Status)
	assert.Equal(t, runDate, f.src.Updates[1].ExportedAt)

	events := f.sink.Events(telemetry.EventRecordQuarantined)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonValidation, events[0].Fields["reason"])
	assert.NotEmpty(t, events[0].Fields["violations"])
}

func TestRun_ResolvesPairedRecords(t *testing.T) {
	f := newFixture(t, instructorRaw("i-1", "c-1"), instructorRaw("i-2", "c-2"))
	f.src.AddCorresponding("c-1", "ADIHPT",
		normalize.RawCorresponding{CandidateID: "c-1", ProductCode: "ADIHPT", ActualStartTime: "2019-05-28T00:00:00Z"},
		normalize.RawCorresponding{CandidateID: "c-1", ProductCode: "ADIHPT", ActualStartTime: "2019-05-24T00:00:00Z"},
	)

	rep, err := f.orch.Run(context.Background(), "instructor")
	require.NoError(t, err)

	assert.Equal(t, []string{"i-1"}, rep.Exported)
	assert.Equal(t, []string{"i-2"}, rep.Quarantined)

	lines := f.lines(t, rep.Path)
	require.Len(t, lines, 2)
	assert.Len(t, lines[1], 263)
	assert.Equal(t, "28052019", lines[1][236:244])
	assert.Equal(t, "H28052019000001000001", lines[0])

	events := f.sink.Events(telemetry.EventNoCorrespondingTest)
	require.Len(t, events, 1)
	assert.Equal(t, "c-2", events[0].Fields["candidateId"])
	assert.Equal(t, "ADIP1", events[0].Fields["productCode"])

	quarantined := f.sink.Events(telemetry.EventRecordQuarantined)
	require.Len(t, quarantined, 1)
	assert.Equal(t, ReasonNoCorresponding, quarantined[0].Fields["reason"])
	assert.Equal(t, string(model.ExportQuarantined), f.src.ExportStatus("instructor", "i-2"))
}

func TestRun_MissingCorrespondingDateKeepsOwnDate(t *testing.T) {
	f := newFixture(t, instructorRaw("i-1", "c-1"))
	f.src.AddCorresponding("c-1", "ADIHPT", normalize.RawCorresponding{CandidateID: "c-1"})

	rep, err := f.orch.Run(context.Background(), "instructor")
	require.NoError(t, err)

	assert.Equal(t, []string{"i-1"}, rep.Exported)
	assert.Equal(t, []string{"i-1"}, rep.Unresolved)
	assert.Equal(t, "01062019", f.lines(t, rep.Path)[1][236:244])
	assert.Len(t, f.sink.Events(telemetry.EventMissingDate), 1)
}

func TestRun_EmptyBatchWritesHeaderOnlyFile(t *testing.T) {
	f := newFixture(t)

	rep, err := f.orch.Run(context.Background(), "learner")
	require.NoError(t, err)

	content, ok := f.files.File(rep.Path)
	require.True(t, ok)
	assert.Equal(t, "HDVSA28052019000001000000\r\n", string(content))
	assert.Empty(t, f.src.Updates, "nothing to reconcile")
	assert.Equal(t, model.StageDone, rep.Stage)
}

func TestRun_FailedUploadLeavesSequenceUnchanged(t *testing.T) {
	f := newFixture(t, learnerRaw("r-1", "CAR", "1"))
	require.NoError(t, f.meta.Write(context.Background(), model.DispatchMetadata{StreamKey: "learner", SequenceNumber: 41}))
	f.files.PutErr = errors.New("connection reset")

	rep, err := f.orch.Run(context.Background(), "learner")
	require.Error(t, err)

	kind, stage := kindAndStage(t, err)
	assert.Equal(t, failure.KindDelivery, kind)
	assert.Equal(t, model.StageUploading, stage)
	assert.Equal(t, model.StageAborted, rep.Stage)

	meta, _, _ := f.meta.Read(context.Background(), "learner")
	assert.Equal(t, int64(41), meta.SequenceNumber)
	assert.Len(t, f.meta.Writes, 1)
	assert.Empty(t, f.src.Updates)
	assert.Equal(t, "", f.src.ExportStatus("learner", "r-1"))
	assert.Len(t, f.sink.Events(telemetry.EventDispatchFailed), 1)

	f.files.PutErr = nil
	rep, err = f.orch.Run(context.Background(), "learner")
	require.NoError(t, err)
	assert.Equal(t, int64(42), rep.SequenceNumber)
	assert.Equal(t, "DVTALN190528000042.txt", rep.FileName)
	assert.Equal(t, []string{"r-1"}, rep.Exported)
}

func TestRun_ChecksumMismatchDeletesUpload(t *testing.T) {
	f := newFixture(t, learnerRaw("r-1", "CAR", "1"))
	f.files.Corrupt = func(_ string, c []byte) []byte { return append(c, '!') }

	rep, err := f.orch.Run(context.Background(), "learner")
	require.Error(t, err)

	assert.ErrorIs(t, err, failure.ErrChecksumMismatch)
	kind, stage := kindAndStage(t, err)
	assert.Equal(t, failure.KindDelivery, kind)
	assert.Equal(t, model.StageVerifying, stage)

	assert.Equal(t, []string{rep.Path}, f.files.Deleted)
	_, stored := f.files.File(rep.Path)
	assert.False(t, stored)
	assert.Empty(t, f.meta.Writes)
	assert.Empty(t, f.src.Updates)
	assert.Len(t, f.sink.Events(telemetry.EventChecksumMismatch), 1)
}

func TestRun_SequencePersistFailureWithdrawsUpload(t *testing.T) {
	f := newFixture(t, learnerRaw("r-1", "CAR", "1"))
	f.meta.WriteErr = errors.New("disk full")

	rep, err := f.orch.Run(context.Background(), "learner")
	require.Error(t, err)

	kind, stage := kindAndStage(t, err)
	assert.Equal(t, failure.KindMetadata, kind)
	assert.Equal(t, model.StageVerifying, stage)
	assert.Equal(t, []string{rep.Path}, f.files.Deleted)
	assert.Empty(t, f.files.Paths())
	assert.Empty(t, f.src.Updates)

	f.meta.WriteErr = nil
	f.src.Results = append(f.src.Results, learnerRaw("r-9", "CAR", "9"))
	rep2, err := f.orch.Run(context.Background(), "learner")
	require.NoError(t, err)

	assert.Equal(t, rep.Path, rep2.Path, "the uncommitted number is reused")
	assert.Equal(t, []string{"r-1", "r-9"}, rep2.Exported)
	assert.Len(t, f.lines(t, rep2.Path), 3)
}

func TestRun_SequencePersistFailureWithStuckUpload(t *testing.T) {
	f := newFixture(t, learnerRaw("r-1", "CAR", "1"))
	f.meta.WriteErr = errors.New("disk full")
	f.files.DeleteErr = errors.New("permission denied")

	rep, err := f.orch.Run(context.Background(), "learner")
	require.Error(t, err)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.KindMetadata, fe.Kind)
	assert.Equal(t, model.StageVerifying, fe.Stage)
	assert.Equal(t, rep.Path, fe.Details.Path)
	assert.ErrorContains(t, err, "disk full")
	assert.ErrorContains(t, err, "permission denied")
}

func TestRun_FailedCleanupStillFails(t *testing.T) {
	f := newFixture(t)
	f.files.Corrupt = func(_ string, c []byte) []byte { return nil }
	f.files.DeleteErr = errors.New("permission denied")

	_, err := f.orch.Run(context.Background(), "learner")
	require.Error(t, err)
	assert.NotErrorIs(t, err, failure.ErrChecksumMismatch)
	assert.ErrorContains(t, err, "permission denied")
	assert.Empty(t, f.meta.Writes)
}

func TestRun_SequenceIsMonotonic(t *testing.T) {
	f := newFixture(t, learnerRaw("r-1", "CAR", "1"))

	var seqs []int64
	for i := 0; i < 3; i++ {
		rep, err := f.orch.Run(context.Background(), "learner")
		require.NoError(t, err)
		seqs = append(seqs, rep.SequenceNumber)
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs)
	assert.Len(t, f.files.Paths(), 3)
}

func TestRun_DailyStreamDerivesOrdinalFromListing(t *testing.T) {
	r := learnerRaw("x-1", "CAR", "1")
	r.TextLanguage = "Welsh"
	f := newFixture(t, r)
	f.files.Seed("results/THRES2019052803R.xml", []byte("earlier"))
	f.files.Seed("results/THRES2019052701R.xml", []byte("yesterday"))

	rep, err := f.orch.Run(context.Background(), "results")
	require.NoError(t, err)

	assert.Equal(t, "THRES2019052804R.xml", rep.FileName)
	content, _ := f.files.File(rep.Path)
	assert.Contains(t, string(content), "<ResultType>Result</ResultType>")
	assert.Contains(t, string(content), "<Language>W</Language>")
	assert.Contains(t, string(content), "<RecordCount>1</RecordCount>")
}

func TestRun_OverlappingStreamsEachExportOnce(t *testing.T) {
	f := newFixture(t, learnerRaw("r-1", "CAR", "1"))

	learner, err := f.orch.Run(context.Background(), "learner")
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1"}, learner.Exported)
	assert.Equal(t, string(model.ExportProcessed), f.src.ExportStatus("learner", "r-1"))
	assert.Equal(t, "", f.src.ExportStatus("results", "r-1"))

	results, err := f.orch.Run(context.Background(), "results")
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1"}, results.Exported, "learner delivery must not hide the record from results")
	assert.Equal(t, string(model.ExportProcessed), f.src.ExportStatus("results", "r-1"))

	again, err := f.orch.Run(context.Background(), "learner")
	require.NoError(t, err)
	assert.Empty(t, again.Exported)

	for _, u := range f.src.Updates {
		assert.Contains(t, []string{"learner", "results"}, u.Stream)
	}
}

func TestRunAll_OverlappingStreamsShareNoStatus(t *testing.T) {
	f := newFixture(t, learnerRaw("r-1", "CAR", "1"), learnerRaw("r-2", "CAR", "2"))

	got := map[string][]string{}
	for _, r := range f.orch.RunAll(context.Background(), []string{"learner", "instructor", "results"}) {
		require.NoError(t, r.Err, r.Report.Stream)
		got[r.Report.Stream] = r.Report.Exported
	}

	assert.Equal(t, []string{"r-1", "r-2"}, got["learner"])
	assert.Empty(t, got["instructor"])
	assert.Equal(t, []string{"r-1", "r-2"}, got["results"])

	for _, q := range f.src.Queries {
		stream, ok := export.Default().Lookup(q.Stream)
		require.True(t, ok)
		assert.Equal(t, stream.ProductCodes, q.ProductCodes)
	}
}

func TestRun_ReconciliationFailureKeepsDelivery(t *testing.T) {
	f := newFixture(t,
		learnerRaw("r-1", "CAR", "1"),
		learnerRaw("r-2", "CAR", "2"),
		learnerRaw("r-3", "CAR", "3"),
	)
	f.orch = New(export.Default(), f.orch.tables, f.orch.validator, f.src, f.files, f.meta,
		WithSink(f.sink),
		WithClock(testutil.NewFixedClock(runDate)),
		WithChunkSize(2),
	)
	f.src.UpdateErr = func(call int, _ source.StatusUpdate) error {
		if call == 2 {
			return &source.Error{Op: "update status", StatusCode: 503, Err: errors.New("unavailable")}
		}
		return nil
	}

	rep, err := f.orch.Run(context.Background(), "learner")
	require.Error(t, err)

	kind, stage := kindAndStage(t, err)
	assert.Equal(t, failure.KindReconciliation, kind)
	assert.Equal(t, model.StageReconciling, stage)
	assert.Equal(t, model.StageReconciling, rep.Stage)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"r-3"}, fe.Details.FailedIDs)

	assert.Len(t, f.meta.Writes, 1, "delivery is committed")
	assert.Equal(t, []int{2, 1}, f.src.UpdateSizes())
	assert.Equal(t, "", f.src.ExportStatus("learner", "r-3"))

	f.src.UpdateErr = nil
	require.NoError(t, f.orch.RetryReconciliation(context.Background(), rep))
	for _, id := range []string{"r-1", "r-2", "r-3"} {
		assert.Equal(t, string(model.ExportProcessed), f.src.ExportStatus("learner", id))
	}
	assert.Len(t, f.meta.Writes, 1, "retry does not redeliver")
}

func TestRetryReconciliation_RejectsOtherStages(t *testing.T) {
	f := newFixture(t)
	err := f.orch.RetryReconciliation(context.Background(), Report{RunID: "x", Stage: model.StageAborted})
	assert.True(t, failure.Is(err, failure.KindConfig))
}

func TestRun_ChunksStatusWrites(t *testing.T) {
	var results []normalize.RawResult
	for i := 0; i < 520; i++ {
		results = append(results, learnerRaw(fmt.Sprintf("r-%03d", i), "CAR", "1"))
	}
	f := newFixture(t, results...)

	rep, err := f.orch.Run(context.Background(), "learner")
	require.NoError(t, err)

	assert.Len(t, rep.Exported, 520)
	assert.Equal(t, []int{100, 100, 100, 100, 100, 20}, f.src.UpdateSizes())
}

func TestRun_SourceFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.src.FetchErr = &source.Error{Op: "fetch unprocessed", StatusCode: 503, Err: errors.New("unavailable")}

	rep, err := f.orch.Run(context.Background(), "learner")
	require.Error(t, err)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.KindSource, fe.Kind)
	assert.Equal(t, model.StageFetching, fe.Stage)
	assert.Equal(t, 503, fe.Details.StatusCode)
	assert.Equal(t, "learner", fe.Details.Stream)
	assert.Equal(t, model.StageAborted, rep.Stage)
	assert.Empty(t, f.files.Puts)
}

func TestRun_UnknownStream(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Run(context.Background(), "nonexistent")
	assert.True(t, failure.Is(err, failure.KindConfig))
}

func TestRun_RejectsConcurrentRunOfSameStream(t *testing.T) {
	f := newFixture(t)

	release, ok := f.orch.guard.acquire("learner")
	require.True(t, ok)
	assert.Equal(t, []string{"learner"}, f.orch.Running())

	_, err := f.orch.Run(context.Background(), "learner")
	assert.ErrorIs(t, err, ErrStreamBusy)

	release()
	_, err = f.orch.Run(context.Background(), "learner")
	assert.NoError(t, err)
	assert.Empty(t, f.orch.Running())
}

func TestRunAll_IndependentStreams(t *testing.T) {
	f := newFixture(t)

	results := f.orch.RunAll(context.Background(), []string{"learner", "nonexistent", "negated"})
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "learner", results[0].Report.Stream)
	assert.True(t, failure.Is(results[1].Err, failure.KindConfig))
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "THRES2019052801N.xml", results[2].Report.FileName)
}
