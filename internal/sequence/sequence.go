// Package sequence assigns per-stream sequence numbers and output file names.
//
// Global streams carry the persisted sequence number as the file suffix.
// Daily streams derive their ordinal from the files already present for the
// current date. The persisted counter is only written after a verified
// upload; see UpdateSequenceNumber.
package sequence

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/roach88/resultexport/internal/export"
	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
)

// MetadataStore persists DispatchMetadata per stream.
type MetadataStore interface {
	Read(ctx context.Context, streamKey string) (model.DispatchMetadata, bool, error)
	Write(ctx context.Context, meta model.DispatchMetadata) error
}

// Lister lists file names in a transfer-channel directory.
type Lister interface {
	ListFiles(ctx context.Context, dir, pattern string) ([]string, error)
}

// Service reads and writes sequence numbers and names files.
type Service struct {
	store MetadataStore
	files Lister
}

// NewService creates a Service.
func NewService(store MetadataStore, files Lister) *Service {
	return &Service{store: store, files: files}
}

// GetNextSequenceNumber returns the last persisted sequence number for the
// stream, or 0 when none exists. Callers add one for the current run.
func (s *Service) GetNextSequenceNumber(ctx context.Context, streamKey string) (int64, error) {
	meta, ok, err := s.store.Read(ctx, streamKey)
	if err != nil {
		return 0, failure.Wrap(failure.KindMetadata, "read sequence number", err).
			WithDetails(failure.Details{Stream: streamKey})
	}
	if !ok {
		return 0, nil
	}
	return meta.SequenceNumber, nil
}

// UpdateSequenceNumber persists meta. It must only be called once the
// file named in meta is durably uploaded and verified.
func (s *Service) UpdateSequenceNumber(ctx context.Context, meta model.DispatchMetadata) error {
	if err := s.store.Write(ctx, meta); err != nil {
		return failure.Wrap(failure.KindMetadata, "persist sequence number", err).
			WithDetails(failure.Details{Stream: meta.StreamKey, Path: meta.FileName})
	}
	return nil
}

// FileName names the file for a run. Daily streams list the stream
// directory first; global streams do not touch the transfer channel.
func (s *Service) FileName(ctx context.Context, stream export.Stream, seq int64, date time.Time) (string, error) {
	var existing []string
	if stream.Naming == export.NamingDaily {
		names, err := s.files.ListFiles(ctx, stream.Dir, stream.Prefix+date.Format(stream.DateLayout))
		if err != nil {
			return "", failure.Wrap(failure.KindDelivery, "list existing files", err).
				WithDetails(failure.Details{Stream: stream.Key, Path: stream.Dir})
		}
		existing = names
	}
	return CreateFileName(stream, seq, date, existing)
}

// CreateFileName derives the file name for seq on date.
//
// For a daily stream the ordinal is one more than the largest ordinal found
// among existing names for the same date, or 1 when there are none; seq is
// ignored. For a global stream the ordinal is seq. Either way the ordinal
// is zero-padded to the stream width and must fit in it.
func CreateFileName(stream export.Stream, seq int64, date time.Time, existing []string) (string, error) {
	stamp := stream.Prefix + date.Format(stream.DateLayout)

	ordinal := seq
	if stream.Naming == export.NamingDaily {
		ordinal = nextDaily(stamp, stream.TypeCode+stream.Extension, existing)
	}

	suffix := fmt.Sprintf("%0*d", stream.Width, ordinal)
	if ordinal < 0 || len(suffix) > stream.Width {
		return "", failure.New(failure.KindEncoding,
			fmt.Sprintf("ordinal %d does not fit in %d digits", ordinal, stream.Width)).
			WithDetails(failure.Details{Stream: stream.Key})
	}
	return stamp + suffix + stream.TypeCode + stream.Extension, nil
}

func nextDaily(stamp, tail string, existing []string) int64 {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(stamp) + `(\d+)` + regexp.QuoteMeta(tail) + "$")

	var max int64
	for _, name := range existing {
		m := re.FindStringSubmatch(path.Base(name))
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1
}
