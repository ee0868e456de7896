// Package demographics infers missing gender and title values.
//
// Both functions are pure and deterministic on their inputs.
package demographics

import (
	"strings"

	"github.com/roach88/resultexport/internal/model"
)

// ResolveGender infers a gender using, in priority order:
//
//  1. the explicit gender, when set;
//  2. a 16-character driver number, whose 7th character is 5 or 6 for
//     female and 0 or 1 for male;
//  3. an 8-character driver number together with a title: Mr is male,
//     Mrs and Miss are female.
//
// Anything else resolves to GenderUnknown.
func ResolveGender(title string, explicit model.Gender, idNumber string) model.Gender {
	if explicit == model.GenderMale || explicit == model.GenderFemale {
		return explicit
	}

	switch len(idNumber) {
	case 16:
		switch idNumber[6] {
		case '5', '6':
			return model.GenderFemale
		case '0', '1':
			return model.GenderMale
		}
	case 8:
		switch canonicalTitle(title) {
		case "mr":
			return model.GenderMale
		case "mrs", "miss":
			return model.GenderFemale
		}
	}
	return model.GenderUnknown
}

// ResolveTitle returns the explicit title if present, else Mr or Ms
// according to gender, else "".
func ResolveTitle(explicit string, gender model.Gender) string {
	if t := strings.TrimSpace(explicit); t != "" {
		return t
	}
	switch gender {
	case model.GenderMale:
		return "Mr"
	case model.GenderFemale:
		return "Ms"
	}
	return ""
}

func canonicalTitle(title string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(title), "."))
}
