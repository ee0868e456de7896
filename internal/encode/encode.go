// Package encode renders an ordered list of encoded records plus header
// parameters into the exact payload of an output file.
//
// Two encoders share the Encoder contract: FixedWidth, driven by a column
// Layout per line, and Markup, which renders an XML document. Payload lines
// are always joined with CRLF. An empty record list is not an error.
package encode

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/resultexport/internal/export"
	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/telemetry"
)

const crlf = "\r\n"

// RecordStart is the first character of every fixed-width result line.
const RecordStart = "R"

// HeaderStart is the first character of every fixed-width header line.
const HeaderStart = "H"

// SourceID identifies the sender in the learner header.
const SourceID = "DVSA"

const fileDateLayout = "02012006"

// Encoder renders one output file.
type Encoder interface {
	CreateFile(records []model.EncodedRecord, header model.HeaderParams) (string, error)
}

// ForStream returns the encoder for s.
func ForStream(s export.Stream, sink telemetry.Sink) (Encoder, error) {
	switch s.Format {
	case export.FormatMarkup:
		return NewMarkup(s.ResultType, sink)
	case export.FormatFixedWidth:
		switch s.Key {
		case "learner":
			return NewLearner(sink), nil
		case "instructor":
			return NewInstructor(sink), nil
		}
	}
	return nil, failure.New(failure.KindConfig, fmt.Sprintf("no encoder for stream %q", s.Key)).
		WithDetails(failure.Details{Stream: s.Key})
}

// FixedWidth renders one header line and one line per record.
type FixedWidth struct {
	name   string
	header Layout
	record Layout
	// headerValues and recordValues project inputs to field values.
	headerValues func(model.HeaderParams) map[string]string
	recordValues func(model.EncodedRecord) map[string]string
	sink         telemetry.Sink
}

// NewLearner returns the learner result encoder.
func NewLearner(sink telemetry.Sink) *FixedWidth {
	return &FixedWidth{
		name:         "learner",
		header:       LearnerHeader,
		record:       LearnerRecord,
		headerValues: learnerHeaderValues,
		recordValues: LearnerLine,
		sink:         sinkOrNop(sink),
	}
}

// NewInstructor returns the instructor result encoder.
func NewInstructor(sink telemetry.Sink) *FixedWidth {
	return &FixedWidth{
		name:         "instructor",
		header:       InstructorHeader,
		record:       InstructorRecord,
		headerValues: instructorHeaderValues,
		recordValues: InstructorLine,
		sink:         sinkOrNop(sink),
	}
}

// HeaderLayout returns the layout of the header line.
func (e *FixedWidth) HeaderLayout() Layout { return e.header }

// RecordLayout returns the layout of a record line.
func (e *FixedWidth) RecordLayout() Layout { return e.record }

// CreateFile implements Encoder.
func (e *FixedWidth) CreateFile(records []model.EncodedRecord, header model.HeaderParams) (string, error) {
	e.sink.Debug("encoding fixed-width file", telemetry.Fields{
		"encoder": e.name,
		"records": len(records),
	})

	head, err := e.header.Render(e.headerValues(header))
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(records))
	for _, r := range records {
		line, err := e.record.Render(e.recordValues(r))
		if err != nil {
			if fe, ok := err.(*failure.Error); ok {
				fe.Details.RecordID = r.Result.ID
			}
			return "", err
		}
		lines = append(lines, line)
	}

	payload := Join(head, lines)
	e.sink.Debug("encoded fixed-width file", telemetry.Fields{
		"encoder": e.name,
		"bytes":   len(payload),
	})
	return payload, nil
}

// Join builds a payload from a header line and record lines, normalizing
// every line separator to CRLF. With no records it is header + CRLF.
func Join(header string, lines []string) string {
	payload := header + "\n" + strings.Join(lines, "\n")
	payload = strings.ReplaceAll(payload, "\r\n", "\n")
	return strings.ReplaceAll(payload, "\n", crlf)
}

func learnerHeaderValues(h model.HeaderParams) map[string]string {
	return map[string]string{
		FieldRecordType:     HeaderStart,
		FieldSource:         SourceID,
		FieldFileDate:       formatDate(h.FileDate),
		FieldSequenceNumber: strconv.FormatInt(h.SequenceNumber, 10),
		FieldRecordCount:    strconv.Itoa(h.RecordCount),
	}
}

func instructorHeaderValues(h model.HeaderParams) map[string]string {
	return map[string]string{
		FieldRecordType:     HeaderStart,
		FieldFileDate:       formatDate(h.FileDate),
		FieldSequenceNumber: strconv.FormatInt(h.SequenceNumber, 10),
		FieldRecordCount:    strconv.Itoa(h.RecordCount),
	}
}

// LearnerLine projects r to learner record field values.
func LearnerLine(r model.EncodedRecord) map[string]string {
	return map[string]string{
		FieldRecordType:        RecordStart,
		FieldDriverNumber:      r.Result.DriverNumber,
		FieldFirstInitial:      r.Result.FirstInitial(),
		FieldTitle:             r.Title,
		FieldSurname:           r.Result.LastName,
		FieldTestCode:          r.TestCode,
		FieldTestDate:          formatDate(r.TestDate),
		FieldCertificateNumber: r.Result.CertificateNumber,
		FieldTestResult:        r.ResultCode,
	}
}

// InstructorLine projects r to instructor record field values.
func InstructorLine(r model.EncodedRecord) map[string]string {
	res := r.Result
	v := map[string]string{
		FieldRecordType:       RecordStart,
		FieldDriverNumber:     res.DriverNumber,
		FieldPaymentReference: res.PaymentReference,
		FieldSurname:          res.LastName,
		FieldPostcode:         res.Address.Postcode,
		FieldTestDate:         formatDate(r.TestDate),
		FieldTestResult:       r.ResultCode,
		FieldOverallScore:     strconv.Itoa(res.Scores.Overall),
		FieldSecondaryScore:   strconv.Itoa(res.Scores.Secondary),
	}
	for i, line := range res.Address.Lines {
		v[AddressField(i)] = line
	}
	for i, score := range res.Scores.Bands {
		v[BandField(i)] = strconv.Itoa(score)
	}
	return v
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(fileDateLayout)
}

func sinkOrNop(s telemetry.Sink) telemetry.Sink {
	if s == nil {
		return telemetry.Nop()
	}
	return s
}
