package warmer

import (
	"context"
	"fmt"
	"strings"

	"github.com/i474232898/weather-gateway/internal/common"
)

// Static is a Locator backed by a fixed table of subject -> ranked
// neighbours. The radius is ignored.
type Static map[string][]string

// ParseStatic reads a table in the form
//
//	london:gb=paris:fr,brussels:be;paris:fr=london:gb
//
// Subjects are lower-cased. An empty string yields an empty table.
func ParseStatic(table string) (Static, error) {
	s := Static{}
	for _, entry := range strings.Split(table, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		subject, list, ok := strings.Cut(entry, "=")
		subject = common.NormalizeSubject(subject)
		if !ok || subject == "" {
			return nil, fmt.Errorf("invalid nearby entry %q: want subject=neighbour,...", entry)
		}

		for _, n := range strings.Split(list, ",") {
			if n = common.NormalizeSubject(n); n != "" {
				s[subject] = append(s[subject], n)
			}
		}
	}
	return s, nil
}

func (s Static) Nearby(_ context.Context, subject string, _ int) ([]string, error) {
	ranked := s[common.NormalizeSubject(subject)]
	out := make([]string, len(ranked))
	copy(out, ranked)
	return out, nil
}
