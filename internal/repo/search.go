package repo

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/BuzzLyutic/todo-store/internal/model"
)

// fold makes s comparable ignoring case and diacritics. Transformers keep
// state, so each call builds its own chain.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}

// filterTasks keeps tasks whose title or details contain query. Order is
// preserved.
func filterTasks(tasks []model.Task, query string) []model.Task {
	needle := fold(query)
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if strings.Contains(fold(t.Title), needle) {
			out = append(out, t)
			continue
		}
		if t.Details != nil && strings.Contains(fold(*t.Details), needle) {
			out = append(out, t)
		}
	}
	return out
}
