// Package trigger exposes dispatch runs over HTTP for an external
// scheduler.
//
//	GET  /info                  service name, version and stream state
//	POST /v1/dispatch/:stream   run one stream and return its report
//
// A request for a stream that is already running gets 409 Conflict.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/roach88/resultexport/internal/dispatch"
	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/telemetry"
)

// Dispatcher runs streams. *dispatch.Orchestrator implements it.
type Dispatcher interface {
	Run(ctx context.Context, stream string) (dispatch.Report, error)
	Streams() []string
	Running() []string
}

// Info is the body of GET /info.
type Info struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Streams []string `json:"streams"`
	Running []string `json:"running"`
}

// DispatchResponse is the body of POST /v1/dispatch/:stream.
type DispatchResponse struct {
	Report dispatch.Report `json:"report"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
}

type Server struct {
	dispatcher Dispatcher
	name       string
	version    string
	sink       telemetry.Sink
	router     *httprouter.Router
}

func New(d Dispatcher, name, version string, sink telemetry.Sink) *Server {
	if sink == nil {
		sink = telemetry.Nop()
	}
	s := &Server{dispatcher: d, name: name, version: version, sink: sink, router: httprouter.New()}
	s.router.GET("/info", s.info)
	s.router.POST("/v1/dispatch/:stream", s.dispatch)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) info(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, Info{
		Name:    s.name,
		Version: s.version,
		Streams: s.dispatcher.Streams(),
		Running: s.dispatcher.Running(),
	})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	stream := p.ByName("stream")
	if !slices.Contains(s.dispatcher.Streams(), stream) {
		writeJSON(w, http.StatusNotFound, DispatchResponse{
			Report: dispatch.Report{Stream: stream},
			Error:  "unknown stream " + stream,
			Kind:   string(failure.KindConfig),
		})
		return
	}

	// A started run finishes even if the caller goes away.
	rep, err := s.dispatcher.Run(context.WithoutCancel(r.Context()), stream)
	if err == nil {
		writeJSON(w, http.StatusOK, DispatchResponse{Report: rep})
		return
	}

	resp := DispatchResponse{Report: rep, Error: err.Error()}
	status := http.StatusInternalServerError
	if errors.Is(err, dispatch.ErrStreamBusy) {
		status = http.StatusConflict
	}
	if k, ok := failure.KindOf(err); ok {
		resp.Kind = string(k)
	}
	s.sink.Warn("dispatch request failed", telemetry.Fields{"stream": stream, "status": status, "error": err})
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves s on addr until ctx is done, then shuts down,
// waiting up to grace for in-flight runs.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.sink.Info("trigger listening", telemetry.Fields{"addr": addr})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
