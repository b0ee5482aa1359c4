package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimelineUnit es la unidad en la que se expresa el timeline de una tarea.
type TimelineUnit string

const (
	TimelineUnitWeek TimelineUnit = "WEEK"
	TimelineUnitDay  TimelineUnit = "DAY"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrInvalidTimeline = errors.New("invalid timeline")
)

// Timeline es el plazo de una tarea. Con unidad WEEK la parte entera son semanas
// y el primer decimal son dias adicionales: 2.5 significa 2 semanas y 5 dias.
type Timeline struct {
	Magnitude float64      `json:"magnitude"`
	Unit      TimelineUnit `json:"unit"`
}

func (t Timeline) IsZero() bool {
	return t.Magnitude == 0 || t.Unit == ""
}

// Parts separa el timeline en semanas y dias segun la codificacion almacenada.
func (t Timeline) Parts() (weeks, days int, err error) {
	switch t.Unit {
	case TimelineUnitWeek:
		whole := math.Floor(t.Magnitude)
		extra := math.Round((t.Magnitude - whole) * 10)
		return int(whole), int(extra), nil
	case TimelineUnitDay:
		return 0, int(math.Trunc(t.Magnitude)), nil
	default:
		return 0, 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidTimeline, t.Unit)
	}
}

// TotalDays convierte el timeline a dias corridos.
func (t Timeline) TotalDays() (int, error) {
	weeks, days, err := t.Parts()
	if err != nil {
		return 0, err
	}
	return weeks*7 + days, nil
}

// Validate aplica las reglas de una solicitud nueva: magnitud positiva, dias enteros
// y, para WEEK, un unico decimal entre 0 y 6.
func (t Timeline) Validate() error {
	if t.Magnitude <= 0 || math.IsNaN(t.Magnitude) || math.IsInf(t.Magnitude, 0) {
		return fmt.Errorf("%w: magnitude must be positive", ErrInvalidTimeline)
	}
	switch t.Unit {
	case TimelineUnitDay:
		if t.Magnitude != math.Trunc(t.Magnitude) {
			return fmt.Errorf("%w: days must be whole", ErrInvalidTimeline)
		}
	case TimelineUnitWeek:
		whole := math.Floor(t.Magnitude)
		extra := math.Round((t.Magnitude - whole) * 10)
		if math.Abs(t.Magnitude-(whole+extra/10)) > 1e-9 {
			return fmt.Errorf("%w: only one decimal digit allowed for weeks", ErrInvalidTimeline)
		}
		if extra > 6 {
			return fmt.Errorf("%w: extra days must be between 0 and 6", ErrInvalidTimeline)
		}
	default:
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidTimeline, t.Unit)
	}
	return nil
}

// Format describe el timeline en semanas y dias, p.ej. "2 week(s) 5 day(s)".
func (t Timeline) Format() string {
	total, err := t.TotalDays()
	if err != nil {
		return "Invalid timeline type"
	}
	return FormatDays(total)
}

// String replica como se muestra una solicitud: magnitud cruda y unidad, "2.5 week(s)".
func (t Timeline) String() string {
	return strconv.FormatFloat(t.Magnitude, 'f', -1, 64) + " " + strings.ToLower(string(t.Unit)) + "(s)"
}

// FormatDays expresa una cantidad de dias como semanas y dias restantes.
func FormatDays(totalDays int) string {
	weeks := totalDays / 7
	days := totalDays % 7

	parts := make([]string, 0, 2)
	if weeks > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", weeks, pluralize("week", weeks)))
	}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", days, pluralize("day", days)))
	}
	if len(parts) == 0 {
		return "Less than 1 day"
	}
	return strings.Join(parts, " ")
}

func pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "(s)"
}

type Task struct {
	ID                string     `json:"id"`
	CreatorID         string     `json:"creator_id"`
	ContributorID     string     `json:"contributor_id,omitempty"`
	Status            string     `json:"status"`
	Timeline          Timeline   `json:"timeline"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	TimelineUpdatedAt time.Time  `json:"timeline_updated_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Counterparty devuelve el otro participante de la conversacion de la tarea.
func (t Task) Counterparty(viewerID string) string {
	if viewerID != "" && viewerID == t.CreatorID {
		return t.ContributorID
	}
	return t.CreatorID
}

// Deadline calcula la fecha limite a partir de la aceptacion y el timeline.
func (t Task) Deadline() (time.Time, bool) {
	if t.Timeline.IsZero() || t.AcceptedAt == nil {
		return time.Time{}, false
	}
	total, err := t.Timeline.TotalDays()
	if err != nil {
		return time.Time{}, false
	}
	return t.AcceptedAt.AddDate(0, 0, total), true
}

// TimeLeft es la proyeccion del tiempo restante de una tarea.
type TimeLeft struct {
	Valid     bool       `json:"valid"`
	Overdue   bool       `json:"overdue"`
	TotalDays int        `json:"total_days"`
	Weeks     int        `json:"weeks"`
	Days      int        `json:"days"`
	Formatted string     `json:"formatted"`
	Deadline  *time.Time `json:"deadline,omitempty"`
}

// Summary es la version corta: "Overdue" sin el detalle de dias vencidos.
func (l TimeLeft) Summary() string {
	if l.Valid && l.Overdue {
		return "Overdue"
	}
	return l.Formatted
}

func (t Task) TimeLeft(now time.Time) TimeLeft {
	if t.Timeline.IsZero() {
		return TimeLeft{Formatted: "No deadline set"}
	}
	if _, err := t.Timeline.TotalDays(); err != nil {
		return TimeLeft{Formatted: "Invalid timeline type"}
	}
	deadline, ok := t.Deadline()
	if !ok {
		return TimeLeft{Formatted: "No deadline set"}
	}

	const day = 24 * time.Hour
	diff := deadline.Sub(now)
	if diff <= 0 {
		overdue := int(math.Ceil(float64(-diff) / float64(day)))
		return TimeLeft{
			Valid:     true,
			Overdue:   true,
			TotalDays: -overdue,
			Formatted: fmt.Sprintf("Overdue by %d %s", overdue, pluralize("day", overdue)),
			Deadline:  &deadline,
		}
	}

	left := int(math.Ceil(float64(diff) / float64(day)))
	return TimeLeft{
		Valid:     true,
		TotalDays: left,
		Weeks:     left / 7,
		Days:      left % 7,
		Formatted: FormatDays(left),
		Deadline:  &deadline,
	}
}
