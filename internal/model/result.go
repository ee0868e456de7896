package model

import (
	"time"
	"unicode"
)

// ResultStatus is the outcome recorded against a test.
type ResultStatus string

const (
	StatusPass       ResultStatus = "Pass"
	StatusFail       ResultStatus = "Fail"
	StatusNotStarted ResultStatus = "NotStarted"
	StatusIncomplete ResultStatus = "Incomplete"
	StatusNegated    ResultStatus = "Negated"
)

// IsValid reports whether s is one of the known result statuses.
func (s ResultStatus) IsValid() bool {
	switch s {
	case StatusPass, StatusFail, StatusNotStarted, StatusIncomplete, StatusNegated:
		return true
	}
	return false
}

// ExportStatus is the export-control field this engine writes back.
type ExportStatus string

const (
	ExportUnprocessed ExportStatus = "Unprocessed"
	ExportProcessed   ExportStatus = "Processed"
	ExportQuarantined ExportStatus = "Quarantined"
)

// Gender is a resolved candidate gender. GenderUnknown is the empty value.
type Gender string

const (
	GenderUnknown Gender = ""
	GenderMale    Gender = "M"
	GenderFemale  Gender = "F"
)

// Address holds up to five address lines and a postcode.
type Address struct {
	Lines    [5]string
	Postcode string
}

// Scores carries the sectional results of a scored test.
// Bands are the four multiple-choice band scores; Secondary is the
// hazard-perception score where one applies.
type Scores struct {
	Bands     [4]int
	Overall   int
	Secondary int
}

// NormalizedResult is one exported candidate/test outcome.
//
// ID, LastName, BirthDate and BookingReference are always populated for a
// record that passes schema validation.
type NormalizedResult struct {
	ID          string
	CandidateID string

	Title        string
	FirstName    string
	LastName     string
	Gender       Gender // explicit gender from the source, if any
	BirthDate    time.Time
	Address      Address
	DriverNumber string
	// ProfessionalRegistrationNumber is set for instructor candidates.
	ProfessionalRegistrationNumber string

	BookingReference  string
	PaymentReference  string
	ProductCode       string
	ExamSeriesCode    string
	TextLanguage      string
	Status            ResultStatus
	CertificateNumber string
	StartTime         time.Time
	Scores            Scores

	ExportStatus ExportStatus
}

// FirstInitial returns the upper-cased first letter of FirstName, or "".
func (r NormalizedResult) FirstInitial() string {
	for _, c := range r.FirstName {
		return string(unicode.ToUpper(c))
	}
	return ""
}

// CorrespondingResult is the lightweight record used to resolve the test
// date of one half of a paired test.
type CorrespondingResult struct {
	CandidateID       string
	ProductCode       string
	ActualStartTime   time.Time
	ScheduledTestDate time.Time
}

// EffectiveDate returns the actual start time, falling back to the
// scheduled date. ok is false when neither is present.
func (c CorrespondingResult) EffectiveDate() (time.Time, bool) {
	if !c.ActualStartTime.IsZero() {
		return c.ActualStartTime, true
	}
	if !c.ScheduledTestDate.IsZero() {
		return c.ScheduledTestDate, true
	}
	return time.Time{}, false
}

// EncodedRecord is a resolved, schema-valid record ready for rendering.
// It is built once per run after validation and resolution and never mutated.
type EncodedRecord struct {
	Result     NormalizedResult
	TestDate   time.Time
	Gender     Gender
	Title      string
	TestCode   string
	ResultCode string
	Language   string
}
