package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/domain"
	"github.com/devasignhq/contributor-app/internal/repository"
	"github.com/devasignhq/contributor-app/internal/service"
)

var (
	ErrFeedNotConfigured = errors.New("feed not configured")
	ErrFeedClosed        = errors.New("feed subscription closed")
)

const (
	channelPrefix      = "conversation:"
	eventMessageCreate = "message.created"
	defaultBatchSize   = 64
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// pubSub es la parte de *redis.PubSub que usa el feed.
type pubSub interface {
	Receive(ctx context.Context) (interface{}, error)
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

type envelope struct {
	Type    string         `json:"type"`
	Message domain.Message `json:"message"`
}

// RedisFeed implementa el backend de mensajes sobre Postgres con push via Redis Pub/Sub.
// Cada envio se guarda en Postgres y luego se publica en conversation:{taskID}.
type RedisFeed struct {
	repo      repository.MessageRepository
	pub       publisher
	subscribe func(ctx context.Context, channel string) pubSub
	logger    *zap.Logger
	batchSize int
	now       func() time.Time
}

func NewRedisFeed(client *redis.Client, repo repository.MessageRepository, logger *zap.Logger) *RedisFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &RedisFeed{
		repo:      repo,
		logger:    logger,
		batchSize: defaultBatchSize,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	if client != nil {
		f.pub = client
		f.subscribe = func(ctx context.Context, channel string) pubSub {
			return client.Subscribe(ctx, channel)
		}
	}
	return f
}

var _ service.MessageBackend = (*RedisFeed)(nil)

func channelName(taskID string) string {
	return channelPrefix + taskID
}

func (f *RedisFeed) FetchConversationHistory(ctx context.Context, taskID string) ([]domain.Message, error) {
	if f == nil || f.repo == nil {
		return nil, ErrFeedNotConfigured
	}
	return f.repo.ListByTaskID(ctx, taskID)
}

// SendMessage guarda el mensaje y lo publica. Si la publicacion falla el mensaje
// ya quedo guardado y los listeners lo recuperan al resuscribirse.
func (f *RedisFeed) SendMessage(ctx context.Context, input domain.CreateMessageInput) (domain.Message, error) {
	if f == nil || f.repo == nil {
		return domain.Message{}, ErrFeedNotConfigured
	}
	now := f.now()
	msg := domain.Message{
		ID:          uuid.NewString(),
		UserID:      strings.TrimSpace(input.UserID),
		TaskID:      strings.TrimSpace(input.TaskID),
		Kind:        input.Kind,
		Body:        input.Body,
		Metadata:    input.Metadata,
		Attachments: input.Attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if msg.Kind == "" {
		msg.Kind = domain.MessageKindGeneral
	}
	if msg.Attachments == nil {
		msg.Attachments = []string{}
	}

	if err := f.repo.Create(ctx, msg); err != nil {
		return domain.Message{}, err
	}

	if f.pub != nil {
		payload, err := json.Marshal(envelope{Type: eventMessageCreate, Message: msg})
		if err != nil {
			return domain.Message{}, err
		}
		if err := f.pub.Publish(ctx, channelName(msg.TaskID), payload).Err(); err != nil {
			f.logger.Warn("publish message failed", zap.Error(err), zap.String("task_id", msg.TaskID), zap.String("message_id", msg.ID))
		}
	}
	return msg, nil
}

func (f *RedisFeed) MarkMessageRead(ctx context.Context, messageID string) error {
	if f == nil || f.repo == nil {
		return ErrFeedNotConfigured
	}
	return f.repo.MarkRead(ctx, messageID)
}

func (f *RedisFeed) CountUnread(ctx context.Context, taskID, viewerID string) (int, error) {
	if f == nil || f.repo == nil {
		return 0, ErrFeedNotConfigured
	}
	return f.repo.CountUnread(ctx, taskID, viewerID)
}

// SubscribeToNewMessages se suscribe al canal de la tarea antes de leer el backlog
// desde el cursor, asi ningun mensaje cae entre ambos pasos.
func (f *RedisFeed) SubscribeToNewMessages(
	ctx context.Context,
	req service.SubscribeRequest,
	onBatch func([]domain.Message),
	onError func(error),
) (func(), error) {
	if f == nil || f.repo == nil || f.subscribe == nil {
		return nil, ErrFeedNotConfigured
	}

	ps := f.subscribe(ctx, channelName(req.TaskID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	messages := ps.Channel()

	backlog, err := f.repo.ListSince(ctx, req.TaskID, req.AuthorID, req.Since)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer ps.Close()

		if batch := filterBatch(backlog, req); len(batch) > 0 {
			onBatch(batch)
		}
		for {
			select {
			case <-subCtx.Done():
				return
			case first, ok := <-messages:
				if !ok {
					if subCtx.Err() == nil {
						onError(ErrFeedClosed)
					}
					return
				}
				batch := f.collect(first, messages, req)
				if len(batch) > 0 {
					onBatch(batch)
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// collect arma un lote con lo que ya este disponible en el canal, hasta batchSize.
func (f *RedisFeed) collect(first *redis.Message, messages <-chan *redis.Message, req service.SubscribeRequest) []domain.Message {
	raw := []*redis.Message{first}
	for len(raw) < f.batchSize {
		select {
		case next, ok := <-messages:
			if !ok {
				return filterBatch(f.decode(raw), req)
			}
			raw = append(raw, next)
		default:
			return filterBatch(f.decode(raw), req)
		}
	}
	return filterBatch(f.decode(raw), req)
}

func (f *RedisFeed) decode(raw []*redis.Message) []domain.Message {
	out := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(r.Payload), &env); err != nil {
			f.logger.Warn("discarding malformed feed payload", zap.Error(err), zap.String("channel", r.Channel))
			continue
		}
		if env.Type != eventMessageCreate {
			continue
		}
		out = append(out, env.Message)
	}
	return out
}

// filterBatch deja solo mensajes de la tarea y el autor del listener, desde el cursor.
func filterBatch(messages []domain.Message, req service.SubscribeRequest) []domain.Message {
	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.TaskID != req.TaskID || m.UserID != req.AuthorID {
			continue
		}
		if m.CreatedAt.Before(req.Since) {
			continue
		}
		out = append(out, m)
	}
	return out
}
