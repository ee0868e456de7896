// Package codes holds the immutable lookup tables used to translate source
// values into output codes: product code to test code, result status to
// result character, paired test types and explicit gender codes.
//
// Tables are parsed once at start-up and injected; they are never mutated.
package codes

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/roach88/resultexport/internal/model"
)

//go:embed codes.yaml
var defaultTables []byte

type document struct {
	TestCodes   map[string]string `yaml:"test_codes"`
	PairedTypes map[string]string `yaml:"paired_types"`
	ResultCodes map[string]string `yaml:"result_codes"`
	GenderCodes map[string]string `yaml:"gender_codes"`
	Languages   map[string]string `yaml:"languages"`
}

// Tables is a read-only set of lookup tables.
type Tables struct {
	testCodes   map[string]string
	paired      map[string]string
	resultCodes map[model.ResultStatus]string
	genders     map[string]model.Gender
	languages   map[string]string
}

// Default parses the embedded tables.
func Default() (*Tables, error) {
	return Parse(defaultTables)
}

// Parse builds Tables from a YAML document.
func Parse(data []byte) (*Tables, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse code tables: %w", err)
	}

	t := &Tables{
		testCodes:   make(map[string]string, len(doc.TestCodes)),
		paired:      make(map[string]string, len(doc.PairedTypes)),
		resultCodes: make(map[model.ResultStatus]string, len(doc.ResultCodes)),
		genders:     make(map[string]model.Gender, len(doc.GenderCodes)),
		languages:   make(map[string]string, len(doc.Languages)),
	}
	for k, v := range doc.TestCodes {
		t.testCodes[k] = v
	}
	for k, v := range doc.PairedTypes {
		if _, ok := doc.TestCodes[v]; !ok {
			return nil, fmt.Errorf("paired type %s -> %s: no test code for %s", k, v, v)
		}
		t.paired[k] = v
	}
	for k, v := range doc.ResultCodes {
		status := model.ResultStatus(k)
		if !status.IsValid() {
			return nil, fmt.Errorf("result code for unknown status %q", k)
		}
		t.resultCodes[status] = v
	}
	for k, v := range doc.GenderCodes {
		g := model.Gender(v)
		if g != model.GenderMale && g != model.GenderFemale {
			return nil, fmt.Errorf("gender code %q maps to %q, want M or F", k, v)
		}
		t.genders[k] = g
	}
	for k, v := range doc.Languages {
		t.languages[k] = v
	}
	return t, nil
}

// TestCode returns the output test code for a product code.
func (t *Tables) TestCode(productCode string) (string, bool) {
	c, ok := t.testCodes[productCode]
	return c, ok
}

// PairedType returns the other half of a paired product code.
func (t *Tables) PairedType(productCode string) (string, bool) {
	p, ok := t.paired[productCode]
	return p, ok
}

// ResultCode returns the single-character result code for a status.
func (t *Tables) ResultCode(s model.ResultStatus) (string, bool) {
	c, ok := t.resultCodes[s]
	return c, ok
}

// Gender maps an explicit source gender code. Unknown codes map to
// GenderUnknown.
func (t *Tables) Gender(code string) model.Gender {
	return t.genders[code]
}

// Language returns the language code for a source text language,
// defaulting to English.
func (t *Tables) Language(textLanguage string) string {
	if c, ok := t.languages[textLanguage]; ok {
		return c
	}
	return t.languages["English"]
}
