package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/domain"
)

var ErrClientNotConfigured = errors.New("task api client not configured")

// APIError es una respuesta de error de la API de tareas.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task api http error: status=%d", e.Status)
	}
	return fmt.Sprintf("task api http error: status=%d: %s", e.Status, e.Message)
}

// Client habla con la API REST de tareas con un token de servicio.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient construye el cliente apuntando a baseURL (sin barra final).
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// TimelineExtensionRequest pide ampliar el plazo de la tarea.
type TimelineExtensionRequest struct {
	Timeline domain.Timeline
	Reason   string
}

// TimelineExtensionReply acepta o rechaza una solicitud pendiente.
type TimelineExtensionReply struct {
	Accept   bool
	Timeline domain.Timeline
	Reason   string
}

// TimelineExtensionResult es lo que devuelve la API: el mensaje creado y,
// si hubo aceptacion, el plazo vigente de la tarea.
type TimelineExtensionResult struct {
	Message  domain.Message
	Timeline *domain.Timeline
}

func (c *Client) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	if c == nil || c.baseURL == "" {
		return domain.Task{}, ErrClientNotConfigured
	}
	var dto taskDTO
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &dto); err != nil {
		return domain.Task{}, err
	}
	return dto.toDomain(), nil
}

func (c *Client) RequestTimelineExtension(ctx context.Context, taskID string, req TimelineExtensionRequest) (TimelineExtensionResult, error) {
	if c == nil || c.baseURL == "" {
		return TimelineExtensionResult{}, ErrClientNotConfigured
	}
	if err := req.Timeline.Validate(); err != nil {
		return TimelineExtensionResult{}, err
	}
	body := timelineRequestDTO{
		RequestedTimeline: req.Timeline.Magnitude,
		TimelineType:      string(req.Timeline.Unit),
		Reason:            strings.TrimSpace(req.Reason),
	}
	var resp timelineResponseDTO
	if err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/timeline", body, &resp); err != nil {
		return TimelineExtensionResult{}, err
	}
	return resp.toDomain(), nil
}

func (c *Client) ReplyTimelineExtension(ctx context.Context, taskID string, reply TimelineExtensionReply) (TimelineExtensionResult, error) {
	if c == nil || c.baseURL == "" {
		return TimelineExtensionResult{}, ErrClientNotConfigured
	}
	if err := reply.Timeline.Validate(); err != nil {
		return TimelineExtensionResult{}, err
	}
	body := timelineReplyDTO{
		Accept:            reply.Accept,
		RequestedTimeline: reply.Timeline.Magnitude,
		TimelineType:      string(reply.Timeline.Unit),
		Reason:            strings.TrimSpace(reply.Reason),
	}
	var resp timelineResponseDTO
	if err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/timeline/reply", body, &resp); err != nil {
		return TimelineExtensionResult{}, err
	}
	return resp.toDomain(), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		bodyBytes, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn("task api error", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, path)
		}
		apiErr := &APIError{Status: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(respBody, &er) == nil {
			apiErr.Message = er.message()
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e errorResponse) message() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}

type taskDTO struct {
	ID                string     `json:"id"`
	CreatorID         string     `json:"creatorId"`
	ContributorID     string     `json:"contributorId"`
	Status            string     `json:"status"`
	Timeline          *float64   `json:"timeline"`
	TimelineType      string     `json:"timelineType"`
	AcceptedAt        *time.Time `json:"acceptedAt"`
	TimelineUpdatedAt *time.Time `json:"timelineUpdatedAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func (d taskDTO) toDomain() domain.Task {
	task := domain.Task{
		ID:            d.ID,
		CreatorID:     d.CreatorID,
		ContributorID: d.ContributorID,
		Status:        d.Status,
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	if d.Timeline != nil && d.TimelineType != "" {
		task.Timeline = domain.Timeline{Magnitude: *d.Timeline, Unit: domain.TimelineUnit(strings.ToUpper(d.TimelineType))}
	}
	if d.AcceptedAt != nil {
		at := d.AcceptedAt.UTC()
		task.AcceptedAt = &at
	}
	if d.TimelineUpdatedAt != nil {
		task.TimelineUpdatedAt = d.TimelineUpdatedAt.UTC()
	}
	return task
}

type timelineRequestDTO struct {
	RequestedTimeline float64 `json:"requestedTimeline"`
	TimelineType      string  `json:"timelineType"`
	Reason            string  `json:"reason,omitempty"`
}

type timelineReplyDTO struct {
	Accept            bool    `json:"accept"`
	RequestedTimeline float64 `json:"requestedTimeline"`
	TimelineType      string  `json:"timelineType"`
	Reason            string  `json:"reason,omitempty"`
}

type messageDTO struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	TaskID      string    `json:"taskId"`
	Type        int       `json:"type"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Metadata    *struct {
		RequestedTimeline float64 `json:"requestedTimeline"`
		TimelineType      string  `json:"timelineType"`
		Reason            string  `json:"reason"`
		Responded         bool    `json:"responded"`
		Outcome           string  `json:"outcome"`
	} `json:"metadata"`
}

type timelineResponseDTO struct {
	Message messageDTO `json:"message"`
	Task    *struct {
		Timeline     float64 `json:"timeline"`
		TimelineType string  `json:"timelineType"`
	} `json:"task,omitempty"`
}

func (d timelineResponseDTO) toDomain() TimelineExtensionResult {
	m := d.Message
	msg := domain.Message{
		ID:          m.ID,
		UserID:      m.UserID,
		TaskID:      m.TaskID,
		Kind:        domain.MessageKindGeneral,
		Body:        m.Body,
		Attachments: m.Attachments,
		Read:        m.Read,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
	if msg.Attachments == nil {
		msg.Attachments = []string{}
	}
	if m.Type == 1 {
		msg.Kind = domain.MessageKindTimelineRequest
	}
	if m.Metadata != nil {
		outcome, reason := domain.ResolveOutcome(m.Metadata.Outcome, m.Metadata.Reason, m.Metadata.Responded)
		msg.Metadata = &domain.MessageMetadata{
			RequestedTimeline: m.Metadata.RequestedTimeline,
			TimelineUnit:      domain.TimelineUnit(strings.ToUpper(m.Metadata.TimelineType)),
			Reason:            reason,
			Outcome:           outcome,
		}
	}

	out := TimelineExtensionResult{Message: msg}
	if d.Task != nil && d.Task.TimelineType != "" {
		out.Timeline = &domain.Timeline{Magnitude: d.Task.Timeline, Unit: domain.TimelineUnit(strings.ToUpper(d.Task.TimelineType))}
	}
	return out
}
