package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ratioglobus/my-world/internal/model"
)

// defaultHeartbeat はSSE接続を維持するためのコメント送信間隔。
const defaultHeartbeat = 25 * time.Second

// ChangeSubscriber は所有者ごとの変更通知を購読するインターフェース。
// realtime.Brokerが実装する。
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, ownerID string) (<-chan model.ChangeEvent, func(), error)
}

// RealtimeHandler は変更通知をServer-Sent Eventsで配信するHTTPハンドラー。
type RealtimeHandler struct {
	subscriber ChangeSubscriber
	heartbeat  time.Duration
}

// NewRealtimeHandler はRealtimeHandlerを生成する。
func NewRealtimeHandler(subscriber ChangeSubscriber) *RealtimeHandler {
	return &RealtimeHandler{subscriber: subscriber, heartbeat: defaultHeartbeat}
}

// Stream はログインユーザー宛ての変更通知を配信する。
// クライアントは受信した通知を元に一覧を再取得する。
// GET /api/realtime
func (h *RealtimeHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("response writer does not support flushing")
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	events, unsubscribe, err := h.subscriber.Subscribe(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("failed to encode change event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
