package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devasignhq/contributor-app/internal/domain"
	"github.com/devasignhq/contributor-app/internal/service"
)

var ErrStoreNotConfigured = errors.New("firestore store not configured")

// Store implementa el backend de mensajes sobre la coleccion de Firestore
// que ya usan los clientes existentes.
type Store struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
}

// NewStore crea el cliente de Firestore para el proyecto indicado.
func NewStore(ctx context.Context, projectID, collection string, logger *zap.Logger) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}
	if collection == "" {
		collection = "messages"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &Store{client: client, collection: collection, logger: logger}, nil
}

var _ service.MessageBackend = (*Store)(nil)

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) messagesCol() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *Store) FetchConversationHistory(ctx context.Context, taskID string) ([]domain.Message, error) {
	if s == nil || s.client == nil {
		return nil, ErrStoreNotConfigured
	}

	iter := s.messagesCol().
		Where("taskId", "==", taskID).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	out := make([]domain.Message, 0)
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore FetchConversationHistory: %w", err)
		}
		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode messageDoc %s: %w", snap.Ref.ID, err)
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
	}
	return out, nil
}

// SubscribeToNewMessages abre un listener de snapshots acotado por autor y cursor.
// El primer snapshot trae lo existente desde el cursor; luego solo altas nuevas.
func (s *Store) SubscribeToNewMessages(
	ctx context.Context,
	req service.SubscribeRequest,
	onBatch func([]domain.Message),
	onError func(error),
) (func(), error) {
	if s == nil || s.client == nil {
		return nil, ErrStoreNotConfigured
	}

	q := s.messagesCol().
		Where("taskId", "==", req.TaskID).
		Where("userId", "==", req.AuthorID)
	if !req.Since.IsZero() {
		q = q.Where("createdAt", ">=", req.Since)
	}
	q = q.OrderBy("createdAt", firestore.Asc)

	subCtx, cancel := context.WithCancel(ctx)
	it := q.Snapshots(subCtx)

	go func() {
		// Stop se llama desde esta goroutine, nunca en paralelo con Next.
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if subCtx.Err() != nil || status.Code(err) == codes.Canceled || err == iterator.Done {
					return
				}
				onError(fmt.Errorf("firestore snapshots: %w", err))
				return
			}

			batch := make([]domain.Message, 0, len(snap.Changes))
			for _, change := range snap.Changes {
				if change.Kind != firestore.DocumentAdded {
					continue
				}
				var doc messageDoc
				if err := change.Doc.DataTo(&doc); err != nil {
					s.logger.Warn("discarding undecodable message", zap.Error(err), zap.String("message_id", change.Doc.Ref.ID))
					continue
				}
				batch = append(batch, doc.toDomain(change.Doc.Ref.ID))
			}
			if len(batch) > 0 {
				onBatch(batch)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

func (s *Store) SendMessage(ctx context.Context, input domain.CreateMessageInput) (domain.Message, error) {
	if s == nil || s.client == nil {
		return domain.Message{}, ErrStoreNotConfigured
	}

	ref := s.messagesCol().NewDoc()
	if _, err := ref.Create(ctx, newMessageDoc(input)); err != nil {
		return domain.Message{}, fmt.Errorf("firestore SendMessage: %w", err)
	}

	// Se relee para obtener los timestamps asignados por el servidor.
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.Message{}, fmt.Errorf("firestore SendMessage read back: %w", err)
	}
	var doc messageDoc
	if err := snap.DataTo(&doc); err != nil {
		return domain.Message{}, fmt.Errorf("decode messageDoc %s: %w", ref.ID, err)
	}
	return doc.toDomain(ref.ID), nil
}

func (s *Store) MarkMessageRead(ctx context.Context, messageID string) error {
	if s == nil || s.client == nil {
		return ErrStoreNotConfigured
	}
	_, err := s.messagesCol().Doc(messageID).Update(ctx, []firestore.Update{
		{Path: "read", Value: true},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return service.ErrMessageNotFound
		}
		return fmt.Errorf("firestore MarkMessageRead: %w", err)
	}
	return nil
}

// CountUnread cuenta mensajes no leidos de la tarea que no escribio el viewer.
func (s *Store) CountUnread(ctx context.Context, taskID, viewerID string) (int, error) {
	if s == nil || s.client == nil {
		return 0, ErrStoreNotConfigured
	}
	iter := s.messagesCol().
		Where("taskId", "==", taskID).
		Where("read", "==", false).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return 0, fmt.Errorf("firestore CountUnread: %w", err)
		}
		if userID, _ := snap.Data()["userId"].(string); userID != viewerID {
			count++
		}
	}
	return count, nil
}

// Tipos de mensaje tal como los guardan los clientes: enum numerico.
const (
	messageTypeGeneral  int64 = 0
	messageTypeTimeline int64 = 1
)

type metadataDoc struct {
	RequestedTimeline float64 `firestore:"requestedTimeline"`
	TimelineType      string  `firestore:"timelineType"`
	Reason            string  `firestore:"reason,omitempty"`
	Responded         bool    `firestore:"responded,omitempty"`
	Outcome           string  `firestore:"outcome,omitempty"`
}

type messageDoc struct {
	UserID      string       `firestore:"userId"`
	TaskID      string       `firestore:"taskId"`
	Type        int64        `firestore:"type"`
	Body        string       `firestore:"body"`
	Metadata    *metadataDoc `firestore:"metadata,omitempty"`
	Attachments []string     `firestore:"attachments"`
	Read        bool         `firestore:"read"`
	CreatedAt   time.Time    `firestore:"createdAt,serverTimestamp"`
	UpdatedAt   time.Time    `firestore:"updatedAt,serverTimestamp"`
}

func newMessageDoc(input domain.CreateMessageInput) messageDoc {
	doc := messageDoc{
		UserID:      strings.TrimSpace(input.UserID),
		TaskID:      strings.TrimSpace(input.TaskID),
		Type:        messageTypeGeneral,
		Body:        input.Body,
		Attachments: input.Attachments,
	}
	if doc.Attachments == nil {
		doc.Attachments = []string{}
	}
	if input.Kind == domain.MessageKindTimelineRequest {
		doc.Type = messageTypeTimeline
	}
	if m := input.Metadata; m != nil {
		doc.Metadata = &metadataDoc{
			RequestedTimeline: m.RequestedTimeline,
			TimelineType:      string(m.TimelineUnit),
			Reason:            m.Reason,
			Outcome:           string(m.Outcome),
			// responded lo siguen leyendo clientes anteriores.
			Responded: m.Outcome != domain.OutcomePending,
		}
	}
	return doc
}

func (d messageDoc) toDomain(id string) domain.Message {
	msg := domain.Message{
		ID:          id,
		UserID:      d.UserID,
		TaskID:      d.TaskID,
		Kind:        domain.MessageKindGeneral,
		Body:        d.Body,
		Attachments: d.Attachments,
		Read:        d.Read,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if msg.Attachments == nil {
		msg.Attachments = []string{}
	}
	if d.Type == messageTypeTimeline {
		msg.Kind = domain.MessageKindTimelineRequest
	}
	if d.Metadata != nil {
		outcome, reason := domain.ResolveOutcome(d.Metadata.Outcome, d.Metadata.Reason, d.Metadata.Responded)
		msg.Metadata = &domain.MessageMetadata{
			RequestedTimeline: d.Metadata.RequestedTimeline,
			TimelineUnit:      domain.TimelineUnit(strings.ToUpper(d.Metadata.TimelineType)),
			Reason:            reason,
			Outcome:           outcome,
		}
	}
	return msg
}
