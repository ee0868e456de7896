package demographics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/resultexport/internal/model"
)

func TestResolveGender(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		explicit model.Gender
		id       string
		want     model.Gender
	}{
		{name: "explicit wins over id", explicit: model.GenderMale, id: "JONES061102W97YT", want: model.GenderMale},
		{name: "explicit female", explicit: model.GenderFemale, want: model.GenderFemale},
		{name: "16 char with 6", id: "JONES061102W97YT", want: model.GenderFemale},
		{name: "16 char with 5", id: "JONES851102W97YT", want: model.GenderFemale},
		{name: "16 char with 0", id: "JONES801102W97YT", want: model.GenderMale},
		{name: "16 char with 1", id: "JONES711102W97YT", want: model.GenderMale},
		{name: "16 char other digit", id: "JONES731102W97YT", want: model.GenderUnknown},
		{name: "16 char ignores title", title: "Mr", id: "JONES731102W97YT", want: model.GenderUnknown},
		{name: "8 char Mr", title: "Mr", id: "78294667", want: model.GenderMale},
		{name: "8 char Mrs", title: "Mrs", id: "78294667", want: model.GenderFemale},
		{name: "8 char Miss", title: "Miss", id: "78294667", want: model.GenderFemale},
		{name: "8 char Mr with dot", title: "Mr.", id: "78294667", want: model.GenderMale},
		{name: "8 char Ms", title: "Ms", id: "78294667", want: model.GenderUnknown},
		{name: "8 char no title", id: "78294667", want: model.GenderUnknown},
		{name: "short id", title: "Mr", id: "123", want: model.GenderUnknown},
		{name: "nothing", want: model.GenderUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveGender(tt.title, tt.explicit, tt.id))
		})
	}
}

func TestResolveTitle(t *testing.T) {
	assert.Equal(t, "Dr", ResolveTitle("Dr", model.GenderMale))
	assert.Equal(t, "Mr", ResolveTitle("", model.GenderMale))
	assert.Equal(t, "Ms", ResolveTitle("  ", model.GenderFemale))
	assert.Equal(t, "", ResolveTitle("", model.GenderUnknown))
}
