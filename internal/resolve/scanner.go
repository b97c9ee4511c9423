package resolve

import "regexp"

// Token syntax is load-bearing: {{<key>}} where key is any non-} run.
var tokenPattern = regexp.MustCompile(`\{\{([^}]*)\}\}`)

// Token is one occurrence of a component reference in a body. Start and End
// are byte offsets of the full match so substitution is positional; a body
// containing the same token twice yields two entries.
type Token struct {
	Raw   string
	Key   string
	Start int
	End   int
}

// ScanTokens extracts ordered token occurrences from a body. Key shape is
// not validated here; keys that resolve to nothing are ignored downstream.
func ScanTokens(body string) []Token {
	matches := tokenPattern.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, Token{
			Raw:   body[m[0]:m[1]],
			Key:   body[m[2]:m[3]],
			Start: m[0],
			End:   m[1],
		})
	}
	return tokens
}
