package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/service"
)

const streamWriteTimeout = 10 * time.Second

// streamFrame es lo que se envia por el websocket.
type streamFrame struct {
	Type         string              `json:"type"`
	Event        *service.MergeEvent `json:"event,omitempty"`
	Conversation *conversationView   `json:"conversation,omitempty"`
	Notice       string              `json:"notice,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// clientFrame es lo que puede mandar el UI: avisos de visibilidad.
type clientFrame struct {
	Type      string   `json:"type"`
	MessageID string   `json:"message_id"`
	Ratio     *float64 `json:"ratio,omitempty"`
}

// Stream maneja GET /tasks/:taskId/conversation/stream. Envia un snapshot inicial
// y despues cada MergeEvent junto con la vista reagrupada.
func (h *ConversationHandler) Stream(c *gin.Context) {
	viewerID, ok := viewerFrom(c)
	if !ok {
		return
	}
	conv, err := h.convs.Open(c.Request.Context(), viewerID, c.Param("taskId"))
	if err != nil {
		h.writeError(c, "open conversation failed", err)
		return
	}

	// El writer de gin marca la respuesta como escrita antes del hijack; se usa el subyacente.
	var w http.ResponseWriter = c.Writer
	if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = u.Unwrap()
	}
	conn, err := websocket.Accept(w, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	events, cancel := conv.Watch()
	defer cancel()

	ctx, stop := context.WithCancel(c.Request.Context())
	defer stop()

	initial := viewOf(conv)
	if err := h.writeFrame(ctx, conn, streamFrame{Type: "snapshot", Conversation: &initial}); err != nil {
		return
	}

	go h.readClientFrames(ctx, stop, conn, conv)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "conversation closed")
				return
			}
			if err := h.writeFrame(ctx, conn, h.frameFor(conv, ev, viewerID)); err != nil {
				return
			}
		}
	}
}

func (h *ConversationHandler) frameFor(conv *service.Conversation, ev service.MergeEvent, viewerID string) streamFrame {
	frame := streamFrame{Type: "event", Event: &ev}
	switch ev.Kind {
	case service.EventMerged, service.EventRead:
		view := viewOf(conv)
		frame.Conversation = &view
	case service.EventTimelineRequested, service.EventTimelineAccepted, service.EventTimelineRejected:
		if ev.Negotiation != nil {
			last := ev.Negotiation.Request
			if ev.Negotiation.Response != nil {
				last = ev.Negotiation.Response
			}
			if last != nil {
				frame.Notice = service.DescribeNegotiation(*last, viewerID)
			}
		}
	}
	return frame
}

func (h *ConversationHandler) writeFrame(ctx context.Context, conn *websocket.Conn, frame streamFrame) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, frame); err != nil {
		h.logger.Debug("ws write failed", zap.Error(err))
		return err
	}
	return nil
}

func (h *ConversationHandler) readClientFrames(ctx context.Context, stop context.CancelFunc, conn *websocket.Conn, conv *service.Conversation) {
	defer stop()
	for {
		var frame clientFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug("ws read failed", zap.Error(err))
			}
			return
		}
		if frame.Type != "visible" {
			continue
		}
		ratio := 1.0
		if frame.Ratio != nil {
			ratio = *frame.Ratio
		}
		if err := conv.MessageVisible(ctx, frame.MessageID, ratio); err != nil {
			status, public := statusFor(err)
			if status >= http.StatusInternalServerError {
				h.logger.Warn("ws mark visible failed", zap.Error(err))
			}
			_ = h.writeFrame(ctx, conn, streamFrame{Type: "error", Error: public})
		}
	}
}
