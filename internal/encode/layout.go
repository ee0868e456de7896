package encode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/normalize"
)

// Pad is the side of a field that receives padding.
type Pad int

const (
	// PadEnd left-aligns the value and pads after it.
	PadEnd Pad = iota
	// PadStart right-aligns the value and pads before it.
	PadStart
)

// Field is one column of a fixed-width line. Start is 0-indexed.
// Zero fields are numeric: they pad at the start with '0' and an absent
// value renders as all zeros.
type Field struct {
	Name  string
	Start int
	Width int
	Pad   Pad
	Zero  bool
}

// Layout is an ordered set of fields making up one line.
type Layout struct {
	Name   string
	Fields []Field
}

// Length is the line length: the furthest end offset of any field.
func (l Layout) Length() int {
	n := 0
	for _, f := range l.Fields {
		if end := f.Start + f.Width; end > n {
			n = end
		}
	}
	return n
}

// Render lays values out by field name. Unknown names are ignored and
// missing names render blank. Every value wider than its field is
// reported in a single encoding failure.
func (l Layout) Render(values map[string]string) (string, error) {
	line := []byte(strings.Repeat(" ", l.Length()))

	var violations []model.Violation
	for _, f := range l.Fields {
		v := normalize.ASCII(values[f.Name])
		if len(v) > f.Width {
			violations = append(violations, model.Violation{
				Field:   f.Name,
				Message: fmt.Sprintf("value is %d characters, field width is %d", len(v), f.Width),
				Params:  []string{v, strconv.Itoa(f.Width)},
			})
			continue
		}
		copy(line[f.Start:f.Start+f.Width], f.pad(v))
	}

	if len(violations) > 0 {
		return "", failure.Encoding(l.Name+": value exceeds field width", violations...)
	}
	return string(line), nil
}

func (f Field) pad(v string) string {
	fill := " "
	if f.Zero {
		fill = "0"
	}
	padding := strings.Repeat(fill, f.Width-len(v))
	if f.Zero || f.Pad == PadStart {
		return padding + v
	}
	return v + padding
}

// Parse reads a rendered line back into field values, removing padding.
func (l Layout) Parse(line string) (map[string]string, error) {
	if len(line) != l.Length() {
		return nil, fmt.Errorf("%s: line is %d characters, want %d", l.Name, len(line), l.Length())
	}
	out := make(map[string]string, len(l.Fields))
	for _, f := range l.Fields {
		raw := line[f.Start : f.Start+f.Width]
		switch {
		case f.Zero:
			v := strings.TrimLeft(raw, "0")
			if v == "" {
				v = "0"
			}
			out[f.Name] = v
		case f.Pad == PadStart:
			out[f.Name] = strings.TrimLeft(raw, " ")
		default:
			out[f.Name] = strings.TrimRight(raw, " ")
		}
	}
	return out, nil
}

// Record and header field names.
const (
	FieldRecordType        = "recordType"
	FieldSource            = "source"
	FieldFileDate          = "fileDate"
	FieldSequenceNumber    = "sequenceNumber"
	FieldRecordCount       = "recordCount"
	FieldDriverNumber      = "driverNumber"
	FieldFirstInitial      = "firstInitial"
	FieldTitle             = "title"
	FieldSurname           = "surname"
	FieldTestCode          = "testCode"
	FieldTestDate          = "testDate"
	FieldCertificateNumber = "certificateNumber"
	FieldTestResult        = "testResult"
	FieldPaymentReference  = "paymentReference"
	FieldPostcode          = "postcode"
	FieldOverallScore      = "overallScore"
	FieldSecondaryScore    = "secondaryScore"
)

// AddressField names the i-th (0-based) address line field.
func AddressField(i int) string { return fmt.Sprintf("addressLine%d", i+1) }

// BandField names the i-th (0-based) band score field.
func BandField(i int) string { return fmt.Sprintf("bandScore%d", i+1) }

// LearnerHeader is the 25-character learner file header.
var LearnerHeader = Layout{
	Name: "learner header",
	Fields: []Field{
		{Name: FieldRecordType, Start: 0, Width: 1},
		{Name: FieldSource, Start: 1, Width: 4},
		{Name: FieldFileDate, Start: 5, Width: 8},
		{Name: FieldSequenceNumber, Start: 13, Width: 6, Pad: PadStart, Zero: true},
		{Name: FieldRecordCount, Start: 19, Width: 6, Pad: PadStart, Zero: true},
	},
}

// LearnerRecord is the 93-character learner result line.
var LearnerRecord = Layout{
	Name: "learner record",
	Fields: []Field{
		{Name: FieldRecordType, Start: 0, Width: 1},
		{Name: FieldDriverNumber, Start: 1, Width: 16},
		{Name: FieldFirstInitial, Start: 17, Width: 1},
		{Name: FieldTitle, Start: 18, Width: 12},
		{Name: FieldSurname, Start: 30, Width: 43},
		{Name: FieldTestCode, Start: 73, Width: 2},
		{Name: FieldTestDate, Start: 75, Width: 8},
		{Name: FieldCertificateNumber, Start: 83, Width: 9, Pad: PadStart},
		{Name: FieldTestResult, Start: 92, Width: 1},
	},
}

// InstructorHeader is the 21-character instructor file header.
var InstructorHeader = Layout{
	Name: "instructor header",
	Fields: []Field{
		{Name: FieldRecordType, Start: 0, Width: 1},
		{Name: FieldFileDate, Start: 1, Width: 8},
		{Name: FieldSequenceNumber, Start: 9, Width: 6, Pad: PadStart, Zero: true},
		{Name: FieldRecordCount, Start: 15, Width: 6, Pad: PadStart, Zero: true},
	},
}

// InstructorRecord is the 263-character instructor result line.
var InstructorRecord = Layout{
	Name: "instructor record",
	Fields: []Field{
		{Name: FieldRecordType, Start: 0, Width: 1},
		{Name: FieldDriverNumber, Start: 1, Width: 16},
		{Name: FieldPaymentReference, Start: 17, Width: 16, Pad: PadStart, Zero: true},
		{Name: FieldSurname, Start: 33, Width: 43},
		{Name: AddressField(0), Start: 76, Width: 30},
		{Name: AddressField(1), Start: 106, Width: 30},
		{Name: AddressField(2), Start: 136, Width: 30},
		{Name: AddressField(3), Start: 166, Width: 30},
		{Name: AddressField(4), Start: 196, Width: 30},
		{Name: FieldPostcode, Start: 226, Width: 10},
		{Name: FieldTestDate, Start: 236, Width: 8, Pad: PadStart},
		{Name: FieldTestResult, Start: 244, Width: 1},
		{Name: BandField(0), Start: 245, Width: 3, Pad: PadStart, Zero: true},
		{Name: BandField(1), Start: 248, Width: 3, Pad: PadStart, Zero: true},
		{Name: BandField(2), Start: 251, Width: 3, Pad: PadStart, Zero: true},
		{Name: BandField(3), Start: 254, Width: 3, Pad: PadStart, Zero: true},
		{Name: FieldOverallScore, Start: 257, Width: 3, Pad: PadStart, Zero: true},
		{Name: FieldSecondaryScore, Start: 260, Width: 3, Pad: PadStart, Zero: true},
	},
}
