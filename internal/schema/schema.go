// Package schema validates normalized records against the declarative
// per-stream record schemas embedded under schemas/.
//
// Each schema file defines a #Record definition. A record is projected to
// a document holding only its non-empty fields, unified with #Record and
// validated for concreteness, so a missing required field and a malformed
// optional one are both reported as violations.
package schema

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/resultexport/internal/model"
)

//go:embed schemas/*.cue
var schemaFS embed.FS

// Schema names.
const (
	Learner    = "learner"
	Instructor = "instructor"
	Result     = "result"
	Negated    = "negated"
)

const dateLayout = "2006-01-02"

// Validator checks records against compiled schemas. It is safe for
// concurrent use; the underlying CUE context is not, so calls serialize.
type Validator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[string]cue.Value
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}

	v := &Validator{
		ctx:  cuecontext.New(),
		defs: make(map[string]cue.Value, len(entries)),
	}
	for _, e := range entries {
		src, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		if err := v.add(strings.TrimSuffix(e.Name(), ".cue"), string(src)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// add compiles src and registers its #Record definition under name.
func (v *Validator) add(name, src string) error {
	val := v.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath("#Record"))
	if !def.Exists() {
		return fmt.Errorf("schema %s: no #Record definition", name)
	}
	v.defs[name] = def
	return nil
}

// Names returns the registered schema names in sorted order.
func (v *Validator) Names() []string {
	names := make([]string, 0, len(v.defs))
	for n := range v.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks r against the named schema. It returns nil violations
// when r is valid. An error is returned only for an unknown schema.
func (v *Validator) Validate(name string, r model.NormalizedResult) ([]model.Violation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	def, ok := v.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}

	doc := v.ctx.Encode(Document(r))
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.ID, err)
	}

	err := def.Unify(doc).Validate(cue.Concrete(true))
	if err == nil {
		return nil, nil
	}
	return violations(err), nil
}

// Document projects r to the field names used by the schemas. Empty
// strings, zero times and zero scores are omitted.
func Document(r model.NormalizedResult) map[string]any {
	doc := map[string]any{}
	put := func(k, s string) {
		if s != "" {
			doc[k] = s
		}
	}

	put("id", r.ID)
	put("candidateId", r.CandidateID)
	put("title", r.Title)
	put("firstName", r.FirstName)
	put("lastName", r.LastName)
	put("driverNumber", r.DriverNumber)
	put("professionalRegistrationNumber", r.ProfessionalRegistrationNumber)
	put("bookingReference", r.BookingReference)
	put("paymentReference", r.PaymentReference)
	put("productCode", r.ProductCode)
	put("examSeriesCode", r.ExamSeriesCode)
	put("textLanguage", r.TextLanguage)
	put("status", string(r.Status))
	put("certificateNumber", r.CertificateNumber)
	put("postcode", r.Address.Postcode)
	for i, line := range r.Address.Lines {
		put(fmt.Sprintf("addressLine%d", i+1), line)
	}
	if !r.BirthDate.IsZero() {
		doc["birthDate"] = r.BirthDate.Format(dateLayout)
	}
	if !r.StartTime.IsZero() {
		doc["startTime"] = r.StartTime.Format("2006-01-02T15:04:05Z07:00")
	}
	if r.Scores != (model.Scores{}) {
		doc["bandScores"] = r.Scores.Bands[:]
		doc["overallScore"] = r.Scores.Overall
		doc["secondaryScore"] = r.Scores.Secondary
	}
	return doc
}

// violations flattens a CUE error into field-sorted violations.
func violations(err error) []model.Violation {
	seen := map[string]bool{}
	var out []model.Violation
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		v := model.Violation{
			Field:   fieldPath(e.Path()),
			Message: fmt.Sprintf(format, args...),
		}
		for _, a := range args {
			v.Params = append(v.Params, fmt.Sprint(a))
		}
		key := v.Field + "\x00" + v.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		out = append(out, model.Violation{Message: err.Error()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Field < out[j].Field
	})
	return out
}

func fieldPath(p []string) string {
	parts := make([]string, 0, len(p))
	for _, s := range p {
		if strings.HasPrefix(s, "#") {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}
