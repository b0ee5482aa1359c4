package service

import (
	"sort"

	"github.com/devasignhq/contributor-app/internal/domain"
)

// MergeMessages combina el estado actual con un lote entrante. Deduplica por id
// (la copia ya presente gana) y ordena por created_at ascendente, desempatando por id.
// Mensajes sin id se descartan porque no se pueden deduplicar.
func MergeMessages(existing, incoming []domain.Message) []domain.Message {
	merged, _ := mergeMessages(existing, incoming)
	return merged
}

// mergeMessages devuelve ademas los mensajes que no estaban en existing.
func mergeMessages(existing, incoming []domain.Message) ([]domain.Message, []domain.Message) {
	out := make([]domain.Message, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))

	for _, m := range existing {
		if m.ID == "" {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}

	var added []domain.Message
	for _, m := range incoming {
		if m.ID == "" {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
		added = append(added, m)
	}

	sortMessages(out)
	sortMessages(added)
	return out, added
}

func sortMessages(messages []domain.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

// MarkMessageRead marca un mensaje como leido. No hace nada si ya estaba leido,
// si no existe o si lo escribio el propio viewer. Nunca muta el slice recibido.
func MarkMessageRead(messages []domain.Message, messageID, viewerID string) ([]domain.Message, bool) {
	idx := indexOfMessage(messages, messageID)
	if idx < 0 {
		return messages, false
	}
	msg := messages[idx]
	if msg.Read || msg.AuthoredBy(viewerID) {
		return messages, false
	}

	out := make([]domain.Message, len(messages))
	copy(out, messages)
	out[idx].Read = true
	return out, true
}

func indexOfMessage(messages []domain.Message, messageID string) int {
	for i := range messages {
		if messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// countUnread cuenta mensajes ajenos aun no leidos.
func countUnread(messages []domain.Message, viewerID string) int {
	n := 0
	for _, m := range messages {
		if !m.Read && !m.AuthoredBy(viewerID) {
			n++
		}
	}
	return n
}
