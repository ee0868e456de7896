package cli

import (
	"context"
	"errors"

	"github.com/roach88/resultexport/internal/codes"
	"github.com/roach88/resultexport/internal/config"
	"github.com/roach88/resultexport/internal/dispatch"
	"github.com/roach88/resultexport/internal/export"
	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/schema"
	"github.com/roach88/resultexport/internal/source"
	"github.com/roach88/resultexport/internal/store"
	"github.com/roach88/resultexport/internal/telemetry"
	"github.com/roach88/resultexport/internal/transfer"
)

// MetadataReader reads persisted dispatch metadata.
type MetadataReader interface {
	Read(ctx context.Context, streamKey string) (model.DispatchMetadata, bool, error)
	History(ctx context.Context, streamKey string, limit int) ([]model.DispatchMetadata, error)
}

// BucketEnsurer prepares the transfer channel before the first upload.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// App holds the collaborators of the commands that run dispatches.
type App struct {
	Config       *config.Config
	Sink         telemetry.Sink
	Orchestrator *dispatch.Orchestrator
	Metadata     MetadataReader
	Bucket       BucketEnsurer

	closers []func() error
}

// OnClose registers fn to run when the App is closed. Closers run in
// reverse order of registration.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything registered with OnClose.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Prepare makes sure the transfer channel can accept uploads.
func (a *App) Prepare(ctx context.Context) error {
	if a.Bucket == nil {
		return nil
	}
	return a.Bucket.EnsureBucket(ctx)
}

// NewApp loads configuration and wires the production collaborators:
// the HTTP source and MinIO transfer channel behind their retrying
// decorators, the metadata store, and zap logging optionally mirrored to
// Kafka. Nothing is contacted over the network until a command runs.
func NewApp(opts *RootOptions) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	log, err := telemetry.NewProduction(opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}

	app := &App{Config: cfg}
	app.OnClose(func() error {
		_ = log.Sync()
		return nil
	})

	var pubs []telemetry.Publisher
	if cfg.Events.Enabled {
		pub := telemetry.NewKafkaPublisher(telemetry.NewKafkaWriter(cfg.Events.Brokers, cfg.Events.Topic, log), log)
		app.OnClose(pub.Close)
		pubs = append(pubs, pub)
	}
	sink := telemetry.NewLogger(log, pubs...)
	app.Sink = sink

	fail := func(code int, msg string, err error) (*App, error) {
		_ = app.Close()
		return nil, WrapExitError(code, msg, err)
	}

	tables, err := codes.Default()
	if err != nil {
		return fail(ExitCommandError, "failed to load code tables", err)
	}
	validator, err := schema.New()
	if err != nil {
		return fail(ExitCommandError, "failed to load record schemas", err)
	}

	st, err := store.Connect(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fail(ExitCommandError, "failed to open metadata store", err)
	}
	app.OnClose(st.Close)
	app.Metadata = st

	httpSource, err := source.NewHTTPClient(cfg.Source.BaseURL, cfg.Source.Token, cfg.Source.Timeout)
	if err != nil {
		return fail(ExitCommandError, "failed to build source client", err)
	}
	minio, err := transfer.NewMinIO(cfg.MinIO())
	if err != nil {
		return fail(ExitCommandError, "failed to build transfer client", err)
	}
	app.Bucket = minio

	policy := cfg.RetryPolicy()
	app.Orchestrator = dispatch.New(
		export.Default(),
		tables,
		validator,
		source.NewRetrying(httpSource, policy, sink),
		transfer.NewRetrying(minio, policy, sink),
		st,
		dispatch.WithSink(sink),
		dispatch.WithChunkSize(cfg.Dispatch.ChunkSize),
		dispatch.WithLookupConcurrency(cfg.Dispatch.LookupConcurrency),
		dispatch.WithPageSize(cfg.Dispatch.PageSize),
	)

	sink.Debug("configuration loaded", telemetry.Fields{"config": cfg.String()})
	return app, nil
}
