package resolve

import (
	"reflect"
	"testing"
)

func TestScanTokens(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []Token
	}{
		{name: "empty body", body: "", want: nil},
		{name: "no matches", body: "plain text with } braces {", want: nil},
		{
			name: "single token",
			body: "a {{x}} b",
			want: []Token{{Raw: "{{x}}", Key: "x", Start: 2, End: 7}},
		},
		{
			name: "duplicate tokens get one entry per occurrence",
			body: "{{x}}{{x}}",
			want: []Token{
				{Raw: "{{x}}", Key: "x", Start: 0, End: 5},
				{Raw: "{{x}}", Key: "x", Start: 5, End: 10},
			},
		},
		{
			name: "keys keep arbitrary non-brace characters",
			body: "{{spaced key!}} {{a.b:c}}",
			want: []Token{
				{Raw: "{{spaced key!}}", Key: "spaced key!", Start: 0, End: 15},
				{Raw: "{{a.b:c}}", Key: "a.b:c", Start: 16, End: 25},
			},
		},
		{
			name: "empty key still scans",
			body: "{{}}",
			want: []Token{{Raw: "{{}}", Key: "", Start: 0, End: 4}},
		},
		{
			name: "unterminated token ignored",
			body: "{{open",
			want: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScanTokens(tc.body)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ScanTokens(%q) = %+v, want %+v", tc.body, got, tc.want)
			}
		})
	}
}

func TestScanTokensOrderIsDocumentOrder(t *testing.T) {
	tokens := ScanTokens("{{b}} {{a}} {{c}}")
	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		keys = append(keys, token.Key)
	}
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}
