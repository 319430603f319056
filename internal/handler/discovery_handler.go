package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ratioglobus/my-world/internal/discovery"
	"github.com/ratioglobus/my-world/internal/model"
)

// DiscoveryServiceInterface は気づきハンドラーが必要とするサービスインターフェース。
type DiscoveryServiceInterface interface {
	List(ctx context.Context, ownerID string) ([]model.Discovery, error)
	Add(ctx context.Context, ownerID string, d discovery.Draft) (*model.Discovery, error)
	Update(ctx context.Context, ownerID, id string, p discovery.Patch) (*model.Discovery, error)
	Delete(ctx context.Context, ownerID, id string) error
	SuggestedTags(ctx context.Context, ownerID, discoveryID string) ([]string, error)
}

// DiscoveryHandler は気づきメモのHTTPハンドラー。
type DiscoveryHandler struct {
	service     DiscoveryServiceInterface
	callTimeout time.Duration
}

// NewDiscoveryHandler はDiscoveryHandlerを生成する。
func NewDiscoveryHandler(service DiscoveryServiceInterface, callTimeout time.Duration) *DiscoveryHandler {
	return &DiscoveryHandler{service: service, callTimeout: callTimeout}
}

type addDiscoveryRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type updateDiscoveryRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}

// ListDiscoveries は気づきの一覧を新しい順に返す。
// GET /api/discoveries
func (h *DiscoveryHandler) ListDiscoveries(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	list, err := h.service.List(ctx, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]discoveryResponse, len(list))
	for i, d := range list {
		resp[i] = toDiscoveryResponse(d)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddDiscovery は気づきを追加する。
// POST /api/discoveries
func (h *DiscoveryHandler) AddDiscovery(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addDiscoveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	created, err := h.service.Add(ctx, userID, discovery.Draft{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDiscoveryResponse(*created))
}

// UpdateDiscovery は気づきを部分更新する。
// PATCH /api/discoveries/{id}
func (h *DiscoveryHandler) UpdateDiscovery(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateDiscoveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	updated, err := h.service.Update(ctx, userID, chi.URLParam(r, "id"), discovery.Patch{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscoveryResponse(*updated))
}

// DeleteDiscovery は気づきを削除する。
// DELETE /api/discoveries/{id}
func (h *DiscoveryHandler) DeleteDiscovery(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	if err := h.service.Delete(ctx, userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SuggestedTags は他の気づきで使われているタグの候補を返す。
// GET /api/discoveries/{id}/suggested-tags
func (h *DiscoveryHandler) SuggestedTags(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	tags, err := h.service.SuggestedTags(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tags": tags})
}
