package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/devasignhq/contributor-app/internal/domain"
)

// judgeOrder compara los ids en orden; devuelve "" si coinciden.
func judgeOrder(got []domain.Message, want ...string) string {
	ids := messageIDs(got)
	if strings.Join(ids, ",") == strings.Join(want, ",") {
		return ""
	}
	return fmt.Sprintf("order %v, want %v", ids, want)
}

// judgeSingleCopies detecta ids repetidos en la lista final.
func judgeSingleCopies(got []domain.Message) string {
	seen := make(map[string]int, len(got))
	for _, m := range got {
		seen[m.ID]++
	}
	var dup []string
	for id, n := range seen {
		if n > 1 {
			dup = append(dup, fmt.Sprintf("%s x%d", id, n))
		}
	}
	if len(dup) == 0 {
		return ""
	}
	sort.Strings(dup)
	return "duplicated " + strings.Join(dup, ", ")
}

// judgeSorted revisa que la lista este ordenada por created_at ascendente.
func judgeSorted(got []domain.Message) string {
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			return fmt.Sprintf("%s before %s out of order", got[i-1].ID, got[i].ID)
		}
	}
	return ""
}

func judgeEqual(what string, got, want interface{}) string {
	if fmt.Sprint(got) == fmt.Sprint(want) {
		return ""
	}
	return fmt.Sprintf("%s = %v, want %v", what, got, want)
}

// collectFailures descarta los veredictos vacios.
func collectFailures(verdicts ...string) []string {
	var out []string
	for _, v := range verdicts {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func messageIDs(messages []domain.Message) []string {
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	return ids
}
