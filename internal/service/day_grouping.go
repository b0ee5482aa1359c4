package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/devasignhq/contributor-app/internal/domain"
)

// GroupOrder define el sentido en que se presentan los grupos por dia.
type GroupOrder string

const (
	NewestFirst GroupOrder = "desc"
	OldestFirst GroupOrder = "asc"
)

// ParseGroupOrder acepta "asc"/"desc"; cualquier otro valor usa NewestFirst.
func ParseGroupOrder(v string) GroupOrder {
	if GroupOrder(v) == OldestFirst {
		return OldestFirst
	}
	return NewestFirst
}

type DayGroup struct {
	Label    string           `json:"label"`
	Messages []domain.Message `json:"messages"`
}

// GroupByDay agrupa mensajes por etiqueta de dia. Dentro de cada grupo se conserva
// el orden de entrada; los grupos se ordenan por el created_at de su primer mensaje.
func GroupByDay(messages []domain.Message, now time.Time, loc *time.Location, order GroupOrder) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	groups := make([]DayGroup, 0)
	index := make(map[string]int)
	for _, m := range messages {
		label := DateLabel(m.CreatedAt, now, loc)
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, DayGroup{Label: label})
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a := groups[i].Messages[0].CreatedAt
		b := groups[j].Messages[0].CreatedAt
		if order == OldestFirst {
			return a.Before(b)
		}
		return a.After(b)
	})
	return groups
}

// DateLabel devuelve "Today", "Yesterday", el nombre del dia (2 a 6 dias atras)
// o la fecha absoluta "11th March 2025" para 7 dias o mas.
func DateLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	d := daysBetween(local, now.In(loc))

	switch {
	case d == 0:
		return "Today"
	case d == 1:
		return "Yesterday"
	case d >= 2 && d <= 6:
		return local.Weekday().String()
	default:
		day := local.Day()
		return fmt.Sprintf("%d%s %s %d", day, OrdinalSuffix(day), local.Month().String(), local.Year())
	}
}

// OrdinalSuffix devuelve st/nd/rd/th; 11, 12 y 13 siempre llevan th.
func OrdinalSuffix(day int) string {
	if day%100 >= 11 && day%100 <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// daysBetween cuenta dias de calendario entre dos fechas ya convertidas a la zona local.
// Compara fechas civiles en UTC para no depender de cambios de horario.
func daysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
