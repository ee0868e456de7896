// Package export defines the export streams: one independently-sequenced
// output per regulatory consumer.
package export

import (
	"fmt"
	"sort"

	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/schema"
)

// Format is the output encoding of a stream.
type Format string

const (
	FormatFixedWidth Format = "fixed-width"
	FormatMarkup     Format = "markup"
)

// Naming selects how a stream derives its file ordinal.
type Naming string

const (
	// NamingGlobal carries the persisted sequence number as the file suffix.
	NamingGlobal Naming = "global"
	// NamingDaily derives the ordinal from files already present for the day.
	NamingDaily Naming = "daily"
)

// Stream describes one export stream.
type Stream struct {
	Key    string
	Format Format
	Schema string
	Naming Naming

	Prefix     string
	DateLayout string // Go time layout of the file-name date part
	Width      int    // zero-padded width of the ordinal
	TypeCode   string // trailing result-type code, markup streams only
	Extension  string
	Dir        string // directory on the transfer channel

	// ResultType is written into the markup header.
	ResultType string

	ProductCodes []string
	Statuses     []model.ResultStatus
}

// Streams is an immutable set of streams keyed by Stream.Key.
type Streams struct {
	byKey map[string]Stream
}

// NewStreams builds a set from defs. Keys must be unique.
func NewStreams(defs ...Stream) (*Streams, error) {
	s := &Streams{byKey: make(map[string]Stream, len(defs))}
	for _, d := range defs {
		if d.Key == "" {
			return nil, fmt.Errorf("stream with empty key")
		}
		if _, dup := s.byKey[d.Key]; dup {
			return nil, fmt.Errorf("duplicate stream %q", d.Key)
		}
		if d.Width <= 0 {
			return nil, fmt.Errorf("stream %q: ordinal width must be positive", d.Key)
		}
		s.byKey[d.Key] = d
	}
	return s, nil
}

// Lookup returns the stream for key.
func (s *Streams) Lookup(key string) (Stream, bool) {
	d, ok := s.byKey[key]
	return d, ok
}

// Keys returns every stream key in sorted order.
func (s *Streams) Keys() []string {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var selectable = []model.ResultStatus{
	model.StatusPass,
	model.StatusFail,
	model.StatusNotStarted,
	model.StatusIncomplete,
}

// Default returns the four production streams.
func Default() *Streams {
	s, err := NewStreams(
		Stream{
			Key:        "learner",
			Format:     FormatFixedWidth,
			Schema:     schema.Learner,
			Naming:     NamingGlobal,
			Prefix:     "DVTALN",
			DateLayout: "060102",
			Width:      6,
			Extension:  ".txt",
			Dir:        "learner",
			ProductCodes: []string{
				"CAR", "MOTORCYCLE", "LGVMC", "LGVHPT", "PCVMC", "PCVHPT",
				"LGVCPC", "PCVCPC", "ERS",
			},
			Statuses: selectable,
		},
		Stream{
			Key:          "instructor",
			Format:       FormatFixedWidth,
			Schema:       schema.Instructor,
			Naming:       NamingGlobal,
			Prefix:       "DVTAIN",
			DateLayout:   "060102",
			Width:        6,
			Extension:    ".txt",
			Dir:          "instructor",
			ProductCodes: []string{"ADIP1", "ADIHPT", "AMIP1"},
			Statuses:     selectable,
		},
		Stream{
			Key:          "results",
			Format:       FormatMarkup,
			Schema:       schema.Result,
			Naming:       NamingDaily,
			Prefix:       "THRES",
			DateLayout:   "20060102",
			Width:        2,
			TypeCode:     "R",
			Extension:    ".xml",
			Dir:          "results",
			ResultType:   "Result",
			ProductCodes: nil,
			Statuses:     selectable,
		},
		Stream{
			Key:        "negated",
			Format:     FormatMarkup,
			Schema:     schema.Negated,
			Naming:     NamingDaily,
			Prefix:     "THRES",
			DateLayout: "20060102",
			Width:      2,
			TypeCode:   "N",
			Extension:  ".xml",
			Dir:        "negated",
			ResultType: "Negated",
			Statuses:   []model.ResultStatus{model.StatusNegated},
		},
	)
	if err != nil {
		panic(err)
	}
	return s
}
