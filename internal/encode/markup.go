package encode

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/telemetry"
)

//go:embed document.schema.json
var documentSchema string

const documentSchemaURL = "document.schema.json"

const markupDateLayout = "2006-01-02"

type markupDocument struct {
	XMLName xml.Name       `xml:"TestResults" json:"-"`
	Header  markupHeader   `xml:"Header" json:"header"`
	Results []markupResult `xml:"Results>Result" json:"results"`
	Trailer markupTrailer  `xml:"Trailer" json:"trailer"`
}

type markupHeader struct {
	FileSequenceNumber int64  `xml:"FileSequenceNumber" json:"fileSequenceNumber"`
	RecordCount        int    `xml:"RecordCount" json:"recordCount"`
	CreatedDate        string `xml:"CreatedDate" json:"createdDate"`
	ResultType         string `xml:"ResultType" json:"resultType"`
}

type markupTrailer struct {
	RecordCount int `xml:"RecordCount" json:"recordCount"`
}

type markupResult struct {
	ResultID  string          `xml:"ResultId" json:"resultId"`
	Candidate markupCandidate `xml:"Candidate" json:"candidate"`
	Test      markupTest      `xml:"Test" json:"test"`
}

type markupCandidate struct {
	Title        string        `xml:"Title" json:"title,omitempty"`
	FirstName    string        `xml:"FirstName" json:"firstName,omitempty"`
	LastName     string        `xml:"LastName" json:"lastName"`
	Gender       string        `xml:"Gender" json:"gender,omitempty"`
	DateOfBirth  string        `xml:"DateOfBirth" json:"dateOfBirth"`
	DriverNumber string        `xml:"DriverNumber" json:"driverNumber,omitempty"`
	Address      markupAddress `xml:"Address" json:"address"`
}

type markupAddress struct {
	Line1    string `xml:"Line1" json:"line1,omitempty"`
	Line2    string `xml:"Line2" json:"line2,omitempty"`
	Line3    string `xml:"Line3" json:"line3,omitempty"`
	Line4    string `xml:"Line4" json:"line4,omitempty"`
	Line5    string `xml:"Line5" json:"line5,omitempty"`
	Postcode string `xml:"Postcode" json:"postcode,omitempty"`
}

type markupTest struct {
	BookingReference  string        `xml:"BookingReference" json:"bookingReference"`
	ProductCode       string        `xml:"ProductCode" json:"productCode,omitempty"`
	TestCode          string        `xml:"TestCode" json:"testCode,omitempty"`
	ExamSeriesCode    string        `xml:"ExamSeriesCode" json:"examSeriesCode,omitempty"`
	Language          string        `xml:"Language" json:"language,omitempty"`
	TestDate          string        `xml:"TestDate" json:"testDate,omitempty"`
	Result            string        `xml:"Result" json:"result"`
	CertificateNumber string        `xml:"CertificateNumber" json:"certificateNumber,omitempty"`
	Scores            *markupScores `xml:"Scores" json:"scores,omitempty"`
}

type markupScores struct {
	Band1     int `xml:"Band1" json:"band1"`
	Band2     int `xml:"Band2" json:"band2"`
	Band3     int `xml:"Band3" json:"band3"`
	Band4     int `xml:"Band4" json:"band4"`
	Overall   int `xml:"Overall" json:"overall"`
	Secondary int `xml:"Secondary" json:"secondary"`
}

// Markup renders a TestResults XML document. The assembled document is
// checked before it is emitted; any problem is an encoding failure.
type Markup struct {
	resultType string
	schema     *jsonschema.Schema
	sink       telemetry.Sink
}

// NewMarkup returns a markup encoder writing resultType into the header.
func NewMarkup(resultType string, sink telemetry.Sink) (*Markup, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(documentSchemaURL, strings.NewReader(documentSchema)); err != nil {
		return nil, fmt.Errorf("load document schema: %w", err)
	}
	s, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &Markup{resultType: resultType, schema: s, sink: sinkOrNop(sink)}, nil
}

// CreateFile implements Encoder.
func (m *Markup) CreateFile(records []model.EncodedRecord, header model.HeaderParams) (string, error) {
	m.sink.Debug("encoding markup file", telemetry.Fields{
		"resultType": m.resultType,
		"records":    len(records),
	})

	doc := markupDocument{
		Header: markupHeader{
			FileSequenceNumber: header.SequenceNumber,
			RecordCount:        header.RecordCount,
			CreatedDate:        header.FileDate.Format(markupDateLayout),
			ResultType:         m.resultType,
		},
		Results: make([]markupResult, 0, len(records)),
		Trailer: markupTrailer{RecordCount: header.RecordCount},
	}
	for _, r := range records {
		doc.Results = append(doc.Results, markupRecord(r))
	}

	if violations := m.check(doc); len(violations) > 0 {
		return "", failure.Encoding("markup document failed validation", violations...)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", failure.Wrap(failure.KindEncoding, "render markup document", err)
	}

	payload := Join(strings.TrimSuffix(xml.Header, "\n"), strings.Split(StripEmptyElements(string(body)), "\n"))
	m.sink.Debug("encoded markup file", telemetry.Fields{
		"resultType": m.resultType,
		"bytes":      len(payload),
	})
	return payload, nil
}

// check validates doc against the document schema and the count
// invariants the schema cannot express.
func (m *Markup) check(doc markupDocument) []model.Violation {
	var violations []model.Violation

	if doc.Header.RecordCount != len(doc.Results) {
		violations = append(violations, model.Violation{
			Field:   "header.recordCount",
			Message: "header record count does not match the number of results",
			Params:  []string{strconv.Itoa(doc.Header.RecordCount), strconv.Itoa(len(doc.Results))},
		})
	}
	if doc.Trailer.RecordCount != doc.Header.RecordCount {
		violations = append(violations, model.Violation{
			Field:   "trailer.recordCount",
			Message: "trailer record count does not match header",
			Params:  []string{strconv.Itoa(doc.Trailer.RecordCount), strconv.Itoa(doc.Header.RecordCount)},
		})
	}

	instance, err := toInstance(doc)
	if err != nil {
		return append(violations, model.Violation{Message: err.Error()})
	}
	err = m.schema.Validate(instance)
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		before := len(violations)
		for _, e := range ve.BasicOutput().Errors {
			if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
				continue
			}
			violations = append(violations, model.Violation{
				Field:   pointerToField(e.InstanceLocation),
				Message: e.Error,
				Params:  []string{e.KeywordLocation},
			})
		}
		if len(violations) == before {
			violations = append(violations, model.Violation{Message: ve.Error()})
		}
	} else if err != nil {
		violations = append(violations, model.Violation{Message: err.Error()})
	}
	return violations
}

// toInstance converts doc to the generic value form the schema validator
// expects, keeping integers as json.Number.
func toInstance(doc markupDocument) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// pointerToField turns a JSON pointer such as /results/0/test into a
// dotted field path.
func pointerToField(p string) string {
	return strings.ReplaceAll(strings.TrimPrefix(p, "/"), "/", ".")
}

func markupRecord(r model.EncodedRecord) markupResult {
	res := r.Result
	out := markupResult{
		ResultID: res.ID,
		Candidate: markupCandidate{
			Title:        r.Title,
			FirstName:    res.FirstName,
			LastName:     res.LastName,
			Gender:       string(r.Gender),
			DateOfBirth:  formatMarkupDate(res.BirthDate),
			DriverNumber: res.DriverNumber,
			Address: markupAddress{
				Line1:    res.Address.Lines[0],
				Line2:    res.Address.Lines[1],
				Line3:    res.Address.Lines[2],
				Line4:    res.Address.Lines[3],
				Line5:    res.Address.Lines[4],
				Postcode: res.Address.Postcode,
			},
		},
		Test: markupTest{
			BookingReference:  res.BookingReference,
			ProductCode:       res.ProductCode,
			TestCode:          r.TestCode,
			ExamSeriesCode:    res.ExamSeriesCode,
			Language:          r.Language,
			TestDate:          formatMarkupDate(r.TestDate),
			Result:            r.ResultCode,
			CertificateNumber: res.CertificateNumber,
		},
	}
	if res.Scores != (model.Scores{}) {
		out.Test.Scores = &markupScores{
			Band1:     res.Scores.Bands[0],
			Band2:     res.Scores.Bands[1],
			Band3:     res.Scores.Bands[2],
			Band4:     res.Scores.Bands[3],
			Overall:   res.Scores.Overall,
			Secondary: res.Scores.Secondary,
		}
	}
	return out
}

func formatMarkupDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(markupDateLayout)
}

var (
	emptyElement  = regexp.MustCompile(`<([A-Za-z][\w.-]*)>\s*</([A-Za-z][\w.-]*)>`)
	selfClosing   = regexp.MustCompile(`<[A-Za-z][\w.-]*\s*/>`)
	blankLineOnly = regexp.MustCompile(`^\s*$`)
)

// StripEmptyElements removes elements with no content, repeating until
// parents emptied by the removal are gone too, then drops blank lines.
func StripEmptyElements(doc string) string {
	for {
		next := selfClosing.ReplaceAllString(doc, "")
		next = emptyElement.ReplaceAllStringFunc(next, func(m string) string {
			sub := emptyElement.FindStringSubmatch(m)
			if sub[1] != sub[2] {
				return m
			}
			return ""
		})
		if next == doc {
			break
		}
		doc = next
	}

	lines := strings.Split(doc, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if blankLineOnly.MatchString(l) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}
