package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resultexport/internal/model"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return v
}

func learnerRecord() model.NormalizedResult {
	return model.NormalizedResult{
		ID:                "res-1",
		Title:             "Mr",
		FirstName:         "Tom",
		LastName:          "Jones",
		BirthDate:         time.Date(1980, 11, 2, 0, 0, 0, 0, time.UTC),
		DriverNumber:      "JONES801102W97YT",
		BookingReference:  "B-1",
		ProductCode:       "CAR",
		Status:            model.StatusPass,
		CertificateNumber: "123456789",
	}
}

func fields(vs []model.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Field)
	}
	return out
}

func TestNew_RegistersEverySchema(t *testing.T) {
	v := newValidator(t)
	assert.Equal(t, []string{Instructor, Learner, Negated, Result}, v.Names())
}

func TestValidate_ValidLearner(t *testing.T) {
	v := newValidator(t)

	got, err := v.Validate(Learner, learnerRecord())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		mutate func(*model.NormalizedResult)
		field  string
	}{
		{
			name:   "missing last name",
			schema: Learner,
			mutate: func(r *model.NormalizedResult) { r.LastName = "" },
			field:  "lastName",
		},
		{
			name:   "missing birth date",
			schema: Learner,
			mutate: func(r *model.NormalizedResult) { r.BirthDate = time.Time{} },
			field:  "birthDate",
		},
		{
			name:   "missing booking reference",
			schema: Learner,
			mutate: func(r *model.NormalizedResult) { r.BookingReference = "" },
			field:  "bookingReference",
		},
		{
			name:   "malformed driver number",
			schema: Learner,
			mutate: func(r *model.NormalizedResult) { r.DriverNumber = "123" },
			field:  "driverNumber",
		},
		{
			name:   "certificate too long",
			schema: Learner,
			mutate: func(r *model.NormalizedResult) { r.CertificateNumber = "1234567890" },
			field:  "certificateNumber",
		},
		{
			name:   "title too long",
			schema: Learner,
			mutate: func(r *model.NormalizedResult) { r.Title = "Lieutenant Colonel" },
			field:  "title",
		},
		{
			name:   "instructor product on learner stream",
			schema: Learner,
			mutate: func(r *model.NormalizedResult) { r.ProductCode = "ADIP1" },
			field:  "productCode",
		},
		{
			name:   "negated stream requires negated status",
			schema: Negated,
			mutate: func(r *model.NormalizedResult) {},
			field:  "status",
		},
		{
			name:   "instructor address too long",
			schema: Instructor,
			mutate: func(r *model.NormalizedResult) {
				r.ProductCode = "ADIP1"
				r.Address.Lines[0] = "A very long first line of an address indeed"
			},
			field: "addressLine1",
		},
		{
			name:   "instructor score out of range",
			schema: Instructor,
			mutate: func(r *model.NormalizedResult) {
				r.ProductCode = "ADIP1"
				r.Scores.Overall = 1000
			},
			field: "overallScore",
		},
	}

	v := newValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := learnerRecord()
			tt.mutate(&r)

			got, err := v.Validate(tt.schema, r)
			require.NoError(t, err)
			require.NotEmpty(t, got)
			assert.Contains(t, fields(got), tt.field)
			for _, viol := range got {
				assert.NotEmpty(t, viol.Message)
			}
		})
	}
}

func TestValidate_ReportsEveryMissingRequiredField(t *testing.T) {
	v := newValidator(t)

	got, err := v.Validate(Result, model.NormalizedResult{ID: "res-9"})
	require.NoError(t, err)

	f := fields(got)
	for _, want := range []string{"lastName", "birthDate", "bookingReference"} {
		assert.Contains(t, f, want)
	}
	assert.IsNonDecreasing(t, f)
}

func TestValidate_UnknownSchema(t *testing.T) {
	v := newValidator(t)

	_, err := v.Validate("nope", learnerRecord())
	assert.Error(t, err)
}

func TestDocument_OmitsEmptyFields(t *testing.T) {
	doc := Document(model.NormalizedResult{ID: "x", LastName: "Smith"})

	assert.Equal(t, map[string]any{"id": "x", "lastName": "Smith"}, doc)
}
