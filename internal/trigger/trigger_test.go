package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resultexport/internal/dispatch"
	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
)

type fakeDispatcher struct {
	err     error
	calls   []string
	running []string
}

func (f *fakeDispatcher) Run(_ context.Context, stream string) (dispatch.Report, error) {
	f.calls = append(f.calls, stream)
	rep := dispatch.Report{RunID: "run-1", Stream: stream, Stage: model.StageDone, FileName: "DVTALN190528000001.txt"}
	if f.err != nil {
		rep.Stage = model.StageAborted
	}
	return rep, f.err
}

func (f *fakeDispatcher) Streams() []string { return []string{"instructor", "learner"} }
func (f *fakeDispatcher) Running() []string { return f.running }

func serve(t *testing.T, d Dispatcher, method, target string) (*httptest.ResponseRecorder, DispatchResponse) {
	t.Helper()
	resp := httptest.NewRecorder()
	New(d, "resultexport", "test", nil).Handler().ServeHTTP(resp, httptest.NewRequest(method, target, nil))

	var body DispatchResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return resp, body
}

func TestInfo(t *testing.T) {
	d := &fakeDispatcher{running: []string{"learner"}}
	resp := httptest.NewRecorder()
	New(d, "resultexport", "1.2.3", nil).Handler().ServeHTTP(resp, httptest.NewRequest("GET", "/info", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))

	var info Info
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &info))
	assert.Equal(t, Info{
		Name:    "resultexport",
		Version: "1.2.3",
		Streams: []string{"instructor", "learner"},
		Running: []string{"learner"},
	}, info)
}

func TestDispatch_OK(t *testing.T) {
	d := &fakeDispatcher{}

	resp, body := serve(t, d, http.MethodPost, "/v1/dispatch/learner")

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"learner"}, d.calls)
	assert.Equal(t, model.StageDone, body.Report.Stage)
	assert.Equal(t, "DVTALN190528000001.txt", body.Report.FileName)
	assert.Empty(t, body.Error)
}

func TestDispatch_UnknownStream(t *testing.T) {
	d := &fakeDispatcher{}

	resp, body := serve(t, d, http.MethodPost, "/v1/dispatch/bogus")

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, string(failure.KindConfig), body.Kind)
	assert.Empty(t, d.calls)
}

func TestDispatch_BusyIsConflict(t *testing.T) {
	d := &fakeDispatcher{err: fmt.Errorf("dispatch learner: %w", dispatch.ErrStreamBusy)}

	resp, body := serve(t, d, http.MethodPost, "/v1/dispatch/learner")

	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, body.Error, "already dispatching")
}

func TestDispatch_FailureCarriesKindAndReport(t *testing.T) {
	d := &fakeDispatcher{err: failure.New(failure.KindDelivery, "upload failed")}

	resp, body := serve(t, d, http.MethodPost, "/v1/dispatch/instructor")

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, string(failure.KindDelivery), body.Kind)
	assert.Equal(t, model.StageAborted, body.Report.Stage)
}

func TestDispatch_MethodNotAllowed(t *testing.T) {
	resp := httptest.NewRecorder()
	New(&fakeDispatcher{}, "resultexport", "test", nil).Handler().
		ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/dispatch/learner", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(&fakeDispatcher{}, "resultexport", "test", nil).ListenAndServe(ctx, "127.0.0.1:0", time.Second)
	}()

	cancel()
	assert.NoError(t, <-done)
}
