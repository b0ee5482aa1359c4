package service

import (
	"sync"

	"github.com/devasignhq/contributor-app/internal/domain"
)

// VisibilityThreshold es la fraccion minima del mensaje que debe estar en pantalla.
const VisibilityThreshold = 0.5

// ReadTracker decide cuando un mensaje visible debe marcarse como leido.
// Cada mensaje dispara a lo sumo una vez; despues su observacion queda descartada.
type ReadTracker struct {
	viewerID  string
	threshold float64

	mu       sync.Mutex
	disposed map[string]struct{}
}

func NewReadTracker(viewerID string) *ReadTracker {
	return &ReadTracker{
		viewerID:  viewerID,
		threshold: VisibilityThreshold,
		disposed:  make(map[string]struct{}),
	}
}

// Observe recibe la fraccion visible del mensaje y devuelve true solo la primera vez
// que corresponde marcarlo. Mensajes propios o ya leidos se descartan sin disparar.
func (t *ReadTracker) Observe(msg domain.Message, visibleRatio float64) bool {
	if t == nil || msg.ID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.disposed[msg.ID]; ok {
		return false
	}
	if msg.Read || msg.AuthoredBy(t.viewerID) {
		t.disposed[msg.ID] = struct{}{}
		return false
	}
	if visibleRatio < t.threshold {
		return false
	}
	t.disposed[msg.ID] = struct{}{}
	return true
}

// Disposed indica si el mensaje ya no se observa.
func (t *ReadTracker) Disposed(messageID string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.disposed[messageID]
	return ok
}
