package retrieval

import (
	"fmt"
	"regexp"
	"strings"
)

var identityPatterns = []struct {
	re     *regexp.Regexp
	expand string
}{
	{regexp.MustCompile(`(?i)\bqui[eé]n\s+es\s+(.+)`), "%s. Información sobre %s, docente, director, profesor, personal académico"},
	{regexp.MustCompile(`(?i)\bwho\s+is\s+(.+)`), "%s. Information about %s, lecturer, director, professor, academic staff"},
}

// RewriteQuery expands identity lookups ("quién es X", "who is X") with
// staff-related terms so named-entity documents score higher. Any other
// query is returned unchanged.
func RewriteQuery(query string) string {
	query = strings.TrimSpace(query)
	for _, p := range identityPatterns {
		m := p.re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		name := strings.Trim(strings.TrimSpace(m[1]), "¿?¡!.,;: ")
		if name == "" {
			return query
		}
		return fmt.Sprintf(p.expand, query, name)
	}
	return query
}
