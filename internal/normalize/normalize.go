// Package normalize maps raw source-of-record payloads into model records.
//
// Text is NFC-normalized and trimmed; identifiers are upper-cased; dates
// that fail to parse are left zero so that schema validation quarantines
// the record instead of the run failing.
package normalize

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/resultexport/internal/codes"
	"github.com/roach88/resultexport/internal/model"
)

// RawAddress is the address block of a RawResult.
type RawAddress struct {
	Line1    string `json:"line1"`
	Line2    string `json:"line2"`
	Line3    string `json:"line3"`
	Line4    string `json:"line4"`
	Line5    string `json:"line5"`
	Postcode string `json:"postcode"`
}

// RawResult is a test result as returned by the source system.
type RawResult struct {
	ID                             string     `json:"id"`
	CandidateID                    string     `json:"candidateId"`
	Title                          string     `json:"title"`
	FirstName                      string     `json:"firstName"`
	LastName                       string     `json:"lastName"`
	GenderCode                     string     `json:"genderCode"`
	BirthDate                      string     `json:"birthDate"`
	Address                        RawAddress `json:"address"`
	DriverNumber                   string     `json:"driverNumber"`
	ProfessionalRegistrationNumber string     `json:"professionalRegistrationNumber"`
	BookingReference               string     `json:"bookingReference"`
	PaymentReference               string     `json:"paymentReference"`
	ProductCode                    string     `json:"productCode"`
	ExamSeriesCode                 string     `json:"examSeriesCode"`
	TextLanguage                   string     `json:"textLanguage"`
	Status                         string     `json:"status"`
	CertificateNumber              string     `json:"certificateNumber"`
	StartTime                      string     `json:"startTime"`
	BandScores                     []int      `json:"bandScores"`
	OverallScore                   int        `json:"overallScore"`
	HazardPerceptionScore          int        `json:"hazardPerceptionScore"`
	ExportStatus                   string     `json:"exportStatus"`
}

// RawCorresponding is the projection returned for a corresponding test lookup.
type RawCorresponding struct {
	CandidateID       string `json:"candidateId"`
	ProductCode       string `json:"productCode"`
	ActualStartTime   string `json:"startTime"`
	ScheduledTestDate string `json:"scheduledTestDate"`
}

// Result maps a RawResult. Explicit gender codes are translated with tables.
func Result(raw RawResult, tables *codes.Tables) model.NormalizedResult {
	r := model.NormalizedResult{
		ID:                             strings.TrimSpace(raw.ID),
		CandidateID:                    strings.TrimSpace(raw.CandidateID),
		Title:                          Text(raw.Title),
		FirstName:                      Text(raw.FirstName),
		LastName:                       Text(raw.LastName),
		Gender:                         tables.Gender(strings.TrimSpace(raw.GenderCode)),
		BirthDate:                      parseDate(raw.BirthDate),
		DriverNumber:                   Identifier(raw.DriverNumber),
		ProfessionalRegistrationNumber: Identifier(raw.ProfessionalRegistrationNumber),
		BookingReference:               Identifier(raw.BookingReference),
		PaymentReference:               Identifier(raw.PaymentReference),
		ProductCode:                    Identifier(raw.ProductCode),
		ExamSeriesCode:                 Identifier(raw.ExamSeriesCode),
		TextLanguage:                   Text(raw.TextLanguage),
		Status:                         model.ResultStatus(strings.TrimSpace(raw.Status)),
		CertificateNumber:              strings.TrimSpace(raw.CertificateNumber),
		StartTime:                      parseTime(raw.StartTime),
		ExportStatus:                   model.ExportStatus(strings.TrimSpace(raw.ExportStatus)),
		Address: model.Address{
			Lines: [5]string{
				Text(raw.Address.Line1),
				Text(raw.Address.Line2),
				Text(raw.Address.Line3),
				Text(raw.Address.Line4),
				Text(raw.Address.Line5),
			},
			Postcode: Postcode(raw.Address.Postcode),
		},
		Scores: model.Scores{
			Overall:   raw.OverallScore,
			Secondary: raw.HazardPerceptionScore,
		},
	}
	copy(r.Scores.Bands[:], raw.BandScores)
	if r.ExportStatus == "" {
		r.ExportStatus = model.ExportUnprocessed
	}
	return r
}

// Corresponding maps a RawCorresponding.
func Corresponding(raw RawCorresponding) model.CorrespondingResult {
	return model.CorrespondingResult{
		CandidateID:       strings.TrimSpace(raw.CandidateID),
		ProductCode:       Identifier(raw.ProductCode),
		ActualStartTime:   parseTime(raw.ActualStartTime),
		ScheduledTestDate: parseTime(raw.ScheduledTestDate),
	}
}

// Text trims s and applies Unicode NFC normalization.
func Text(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Identifier trims, upper-cases and removes inner spaces from s.
func Identifier(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// Postcode trims and upper-cases s, collapsing inner whitespace to the
// single space between outward and inward codes.
func Postcode(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(Text(s)), " "))
}

// ASCII folds s to plain ASCII for fixed-width output: combining marks are
// removed after decomposition and any remaining non-ASCII rune becomes '?'.
func ASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return '?'
		}
		return r
	}, folded)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseDate(s string) time.Time {
	t := parseTime(s)
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
