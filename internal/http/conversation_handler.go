package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/domain"
	"github.com/devasignhq/contributor-app/internal/service"
	"github.com/devasignhq/contributor-app/internal/taskapi"
)

type conversationOpener interface {
	Open(ctx context.Context, viewerID, taskID string) (*service.Conversation, error)
}

type unreadCounter interface {
	CountUnread(ctx context.Context, taskID, viewerID string) (int, error)
}

// TimelineNegotiator delega solicitudes y respuestas de extension en la API de tareas.
type TimelineNegotiator interface {
	RequestTimelineExtension(ctx context.Context, taskID string, req taskapi.TimelineExtensionRequest) (taskapi.TimelineExtensionResult, error)
	ReplyTimelineExtension(ctx context.Context, taskID string, reply taskapi.TimelineExtensionReply) (taskapi.TimelineExtensionResult, error)
}

// ConversationHandler expone la conversacion de una tarea al UI.
type ConversationHandler struct {
	logger     *zap.Logger
	convs      conversationOpener
	tasks      service.TaskSource
	unread     unreadCounter
	limiter    service.SendRateLimiter
	negotiator TimelineNegotiator
	now        func() time.Time
}

// NewConversationHandler crea el handler. unread, limiter y negotiator son opcionales.
func NewConversationHandler(
	logger *zap.Logger,
	convs conversationOpener,
	tasks service.TaskSource,
	unread unreadCounter,
	limiter service.SendRateLimiter,
	negotiator TimelineNegotiator,
) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{
		logger:     logger,
		convs:      convs,
		tasks:      tasks,
		unread:     unread,
		limiter:    limiter,
		negotiator: negotiator,
		now:        time.Now,
	}
}

type conversationView struct {
	TaskID         string                    `json:"task_id"`
	CounterpartyID string                    `json:"counterparty_id"`
	State          service.ConversationState `json:"state"`
	Groups         []service.DayGroup        `json:"groups"`
	Unread         int                       `json:"unread"`
	Negotiations   []service.Negotiation     `json:"negotiations"`
}

func viewOf(conv *service.Conversation) conversationView {
	return conversationView{
		TaskID:         conv.TaskID(),
		CounterpartyID: conv.CounterpartyID(),
		State:          conv.State(),
		Groups:         conv.VisibleTimeline(),
		Unread:         conv.UnreadCount(),
		Negotiations:   conv.Negotiations(),
	}
}

// GetConversation maneja GET /tasks/:taskId/conversation.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	viewerID, ok := viewerFrom(c)
	if !ok {
		return
	}
	conv, err := h.convs.Open(c.Request.Context(), viewerID, c.Param("taskId"))
	if err != nil {
		h.writeError(c, "open conversation failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": viewOf(conv)})
}

// PostMessage maneja POST /tasks/:taskId/messages.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	viewerID, ok := viewerFrom(c)
	if !ok {
		return
	}
	var req struct {
		Body        string   `json:"body"`
		Attachments []string `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	taskID := c.Param("taskId")
	if !h.allowSend(c, viewerID, taskID) {
		return
	}

	conv, err := h.convs.Open(c.Request.Context(), viewerID, taskID)
	if err != nil {
		h.writeError(c, "open conversation failed", err)
		return
	}
	msg, err := conv.Send(c.Request.Context(), service.SendInput{Body: req.Body, Attachments: req.Attachments})
	if err != nil {
		h.writeError(c, "send message failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkVisible maneja POST /tasks/:taskId/messages/:messageId/visible.
func (h *ConversationHandler) MarkVisible(c *gin.Context) {
	viewerID, ok := viewerFrom(c)
	if !ok {
		return
	}
	var req struct {
		Ratio *float64 `json:"ratio"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	ratio := 1.0
	if req.Ratio != nil {
		ratio = *req.Ratio
	}

	conv, err := h.convs.Open(c.Request.Context(), viewerID, c.Param("taskId"))
	if err != nil {
		h.writeError(c, "open conversation failed", err)
		return
	}
	if err := conv.MessageVisible(c.Request.Context(), c.Param("messageId"), ratio); err != nil {
		h.writeError(c, "mark visible failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": conv.UnreadCount()})
}

// GetUnread maneja GET /tasks/:taskId/unread, usado por las tarjetas de tarea.
func (h *ConversationHandler) GetUnread(c *gin.Context) {
	viewerID, ok := viewerFrom(c)
	if !ok {
		return
	}
	taskID := c.Param("taskId")
	if _, err := h.participantTask(c.Request.Context(), viewerID, taskID); err != nil {
		h.writeError(c, "unread lookup failed", err)
		return
	}
	if h.unread == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "unread counter not configured"})
		return
	}
	count, err := h.unread.CountUnread(c.Request.Context(), taskID, viewerID)
	if err != nil {
		h.writeError(c, "count unread failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "unread": count})
}

// GetTimeLeft maneja GET /tasks/:taskId/timeline.
func (h *ConversationHandler) GetTimeLeft(c *gin.Context) {
	viewerID, ok := viewerFrom(c)
	if !ok {
		return
	}
	task, err := h.participantTask(c.Request.Context(), viewerID, c.Param("taskId"))
	if err != nil {
		h.writeError(c, "time left lookup failed", err)
		return
	}
	left := task.TimeLeft(h.now())
	c.JSON(http.StatusOK, gin.H{
		"task_id":   task.ID,
		"timeline":  task.Timeline,
		"time_left": left,
		"summary":   left.Summary(),
	})
}

type timelineBody struct {
	RequestedTimeline float64 `json:"requested_timeline"`
	TimelineType      string  `json:"timeline_type"`
	Reason            string  `json:"reason"`
}

func (b timelineBody) timeline() domain.Timeline {
	return domain.Timeline{
		Magnitude: b.RequestedTimeline,
		Unit:      domain.TimelineUnit(strings.ToUpper(strings.TrimSpace(b.TimelineType))),
	}
}

// RequestTimeline maneja POST /tasks/:taskId/timeline/requests.
func (h *ConversationHandler) RequestTimeline(c *gin.Context) {
	viewerID, ok := viewerFrom(c)
	if !ok {
		return
	}
	var req timelineBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	timeline := req.timeline()
	if err := timeline.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	taskID := c.Param("taskId")
	if !h.allowSend(c, viewerID, taskID) {
		return
	}

	conv, err := h.convs.Open(c.Request.Context(), viewerID, taskID)
	if err != nil {
		h.writeError(c, "open conversation failed", err)
		return
	}

	if h.negotiator != nil {
		// La API de tareas crea el mensaje; llega a la conversacion por el listener del viewer.
		res, err := h.negotiator.RequestTimelineExtension(c.Request.Context(), taskID, taskapi.TimelineExtensionRequest{
			Timeline: timeline,
			Reason:   req.Reason,
		})
		if err != nil {
			h.writeError(c, "request timeline extension failed", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": res.Message})
		return
	}

	msg, err := conv.Send(c.Request.Context(), service.SendInput{
		Kind: domain.MessageKindTimelineRequest,
		Metadata: &domain.MessageMetadata{
			RequestedTimeline: timeline.Magnitude,
			TimelineUnit:      timeline.Unit,
			Reason:            strings.TrimSpace(req.Reason),
		},
	})
	if err != nil {
		h.writeError(c, "request timeline extension failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// ReplyTimeline maneja POST /tasks/:taskId/timeline/reply.
func (h *ConversationHandler) ReplyTimeline(c *gin.Context) {
	viewerID, ok := viewerFrom(c)
	if !ok {
		return
	}
	var req struct {
		timelineBody
		Accept *bool `json:"accept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Accept == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	timeline := req.timeline()
	if err := timeline.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	taskID := c.Param("taskId")
	task, err := h.participantTask(c.Request.Context(), viewerID, taskID)
	if err != nil {
		h.writeError(c, "reply timeline extension failed", err)
		return
	}
	if viewerID != task.CreatorID {
		h.writeError(c, "reply timeline extension failed", service.ErrNotTaskCreator)
		return
	}
	if !h.allowSend(c, viewerID, taskID) {
		return
	}

	conv, err := h.convs.Open(c.Request.Context(), viewerID, taskID)
	if err != nil {
		h.writeError(c, "open conversation failed", err)
		return
	}

	if h.negotiator != nil {
		res, err := h.negotiator.ReplyTimelineExtension(c.Request.Context(), taskID, taskapi.TimelineExtensionReply{
			Accept:   *req.Accept,
			Timeline: timeline,
			Reason:   req.Reason,
		})
		if err != nil {
			h.writeError(c, "reply timeline extension failed", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": res.Message})
		return
	}

	outcome := domain.OutcomeRejected
	if *req.Accept {
		outcome = domain.OutcomeAccepted
	}
	msg, err := conv.Send(c.Request.Context(), service.SendInput{
		Kind: domain.MessageKindTimelineRequest,
		Metadata: &domain.MessageMetadata{
			RequestedTimeline: timeline.Magnitude,
			TimelineUnit:      timeline.Unit,
			Reason:            strings.TrimSpace(req.Reason),
			Outcome:           outcome,
		},
	})
	if err != nil {
		h.writeError(c, "reply timeline extension failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *ConversationHandler) allowSend(c *gin.Context, viewerID, taskID string) bool {
	if h.limiter == nil || h.limiter.Allow(service.SendLimiterKey(viewerID, taskID)) {
		return true
	}
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many messages"})
	return false
}

func (h *ConversationHandler) participantTask(ctx context.Context, viewerID, taskID string) (domain.Task, error) {
	if h.tasks == nil {
		return domain.Task{}, service.ErrServiceNotConfigured
	}
	task, err := h.tasks.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if viewerID != task.CreatorID && viewerID != task.ContributorID {
		return domain.Task{}, service.ErrNotParticipant
	}
	return task, nil
}

func (h *ConversationHandler) writeError(c *gin.Context, msg string, err error) {
	status, public := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err), zap.String("task_id", c.Param("taskId")))
	} else {
		h.logger.Warn(msg, zap.Error(err), zap.String("task_id", c.Param("taskId")))
	}
	c.JSON(status, gin.H{"error": public})
}

func statusFor(err error) (int, string) {
	var (
		loadErr *service.LoadError
		sendErr *service.SendError
		apiErr  *taskapi.APIError
	)
	switch {
	case errors.Is(err, service.ErrNotParticipant):
		return http.StatusForbidden, "not a participant of this task"
	case errors.Is(err, service.ErrNotTaskCreator):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrNoPendingRequest):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "task not found"
	case errors.Is(err, service.ErrMessageNotFound):
		return http.StatusNotFound, "message not found"
	case errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest, "message is empty"
	case errors.Is(err, domain.ErrInvalidTimeline), errors.Is(err, service.ErrConversationInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrConversationClosed), errors.Is(err, service.ErrConversationNotStarted):
		return http.StatusConflict, "conversation not available"
	case errors.As(err, &apiErr):
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status, apiErr.Message
		}
		return http.StatusBadGateway, "task api unavailable"
	case errors.As(err, &loadErr):
		return http.StatusBadGateway, "could not load conversation"
	case errors.As(err, &sendErr):
		return http.StatusBadGateway, "could not send message"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// viewerFrom lee el viewer de los claims JWT; responde 401 si faltan.
func viewerFrom(c *gin.Context) (string, bool) {
	claims, ok := GetAuthClaims(c)
	if !ok || strings.TrimSpace(claims.UserID) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing viewer"})
		c.Abort()
		return "", false
	}
	return claims.UserID, true
}
