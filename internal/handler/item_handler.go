package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ratioglobus/my-world/internal/importer"
	"github.com/ratioglobus/my-world/internal/item"
	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/security"
	"github.com/ratioglobus/my-world/internal/viewmodel"
)

// maxPageSize はpage_sizeクエリで指定できる上限。
const maxPageSize = 100

// ItemServiceInterface はアイテムハンドラーが必要とするサービスインターフェース。
// item.Serviceが実装する。
type ItemServiceInterface interface {
	Visible(ctx context.Context, ownerID string, mode model.Mode, filters viewmodel.Filters, page, pageSize int) (viewmodel.Result, error)
	ListArchived(ctx context.Context, ownerID string, mode model.Mode) ([]model.Item, error)
	Add(ctx context.Context, ownerID string, draft model.ItemDraft, mode model.Mode) (*model.Item, error)
	Update(ctx context.Context, ownerID, id string, patch model.ItemPatch, mode model.Mode) (*model.Item, error)
	Delete(ctx context.Context, ownerID, id string, mode model.Mode) error
	Archive(ctx context.Context, ownerID, id string, mode model.Mode) error
	Restore(ctx context.Context, ownerID, id string, mode model.Mode) error
	ToggleHidden(ctx context.Context, ownerID, id string, hidden bool, mode model.Mode) error
	TogglePin(ctx context.Context, ownerID, id string, pinned bool, mode model.Mode) error
	MoveToCompleted(ctx context.Context, ownerID, plannedID string, rating int) (*model.Item, error)
}

// FeedImporter はフィードから予定アイテムを取り込むインターフェース。
type FeedImporter interface {
	Import(ctx context.Context, ownerID, rawURL string) (*importer.Result, error)
}

// ItemHandler はアイテム管理のHTTPハンドラー。
type ItemHandler struct {
	service     ItemServiceInterface
	importer    FeedImporter
	renderer    security.CommentRenderer
	pageSize    int
	callTimeout time.Duration
}

// NewItemHandler はItemHandlerを生成する。
// importerがnilの場合、取り込みエンドポイントは503を返す。
func NewItemHandler(
	service ItemServiceInterface,
	feedImporter FeedImporter,
	renderer security.CommentRenderer,
	pageSize int,
	callTimeout time.Duration,
) *ItemHandler {
	if pageSize <= 0 {
		pageSize = viewmodel.DefaultPageSize
	}
	return &ItemHandler{
		service:     service,
		importer:    feedImporter,
		renderer:    renderer,
		pageSize:    pageSize,
		callTimeout: callTimeout,
	}
}

// --- リクエスト型 ---

type hiddenRequest struct {
	Hidden *bool `json:"hidden"`
}

type pinnedRequest struct {
	Pinned *bool `json:"pinned"`
}

type completeRequest struct {
	Rating *int `json:"rating"`
}

type importRequest struct {
	URL string `json:"url"`
}

// importResponse はフィード取り込み結果のレスポンス。
type importResponse struct {
	FeedURL   string         `json:"feed_url"`
	FeedTitle string         `json:"feed_title"`
	Imported  []itemResponse `json:"imported"`
	Skipped   int            `json:"skipped"`
}

// ListItems は絞り込み・ページング済みのアイテム一覧を返す。
// GET /api/items/{mode}?q=&category=&priority=&status=&hidden_only=&page=&page_size=
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}

	state := viewmodel.StateFromQuery(mode, r.URL.Query())
	pageSize := h.pageSize
	if v := r.URL.Query().Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError("page_size", "1から100の整数を指定してください"))
			return
		}
		pageSize = n
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	result, err := h.service.Visible(ctx, userID, mode, state.Filters, state.Page, pageSize)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := itemListResponse{
		Mode:         string(mode),
		Items:        toItemResponses(result.Items, mode, h.renderer),
		Page:         result.Page,
		TotalPages:   result.TotalPages,
		TotalMatched: result.TotalMatched,
	}
	switch {
	case result.CollectionEmpty:
		resp.EmptyMessage = viewmodel.EmptyMessage(mode)
	case result.FilteredEmpty:
		resp.EmptyMessage = viewmodel.FilteredEmptyMessage()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListArchived はアーカイブ済みアイテムの一覧を返す。
// GET /api/archive/{mode}
func (h *ItemHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	items, err := h.service.ListArchived(ctx, userID, mode)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponses(items, mode, h.renderer))
}

// AddItem はアイテムを追加する。
// POST /api/items/{mode}
func (h *ItemHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}
	raw, ok := decodeRawObject(w, r)
	if !ok {
		return
	}

	draft, err := item.DecodeDraft(mode, raw)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	created, err := h.service.Add(ctx, userID, draft, mode)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(*created, mode, h.renderer))
}

// UpdateItem はアイテムを部分更新する。
// PATCH /api/items/{mode}/{id}
func (h *ItemHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}
	raw, ok := decodeRawObject(w, r)
	if !ok {
		return
	}

	patch, err := item.DecodePatch(mode, raw)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	updated, err := h.service.Update(ctx, userID, chi.URLParam(r, "id"), patch, mode)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(*updated, mode, h.renderer))
}

// DeleteItem はアイテムを削除する。
// DELETE /api/items/{mode}/{id}
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, func(ctx context.Context, userID, id string, mode model.Mode) error {
		return h.service.Delete(ctx, userID, id, mode)
	})
}

// ArchiveItem はアイテムをアーカイブする。
// PUT /api/items/{mode}/{id}/archive
func (h *ItemHandler) ArchiveItem(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, func(ctx context.Context, userID, id string, mode model.Mode) error {
		return h.service.Archive(ctx, userID, id, mode)
	})
}

// RestoreItem はアーカイブ済みアイテムを元に戻す。
// PUT /api/items/{mode}/{id}/restore
func (h *ItemHandler) RestoreItem(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, func(ctx context.Context, userID, id string, mode model.Mode) error {
		return h.service.Restore(ctx, userID, id, mode)
	})
}

// SetHidden はアイテムの非表示フラグを設定する。
// PUT /api/items/{mode}/{id}/hidden  {"hidden": true}
func (h *ItemHandler) SetHidden(w http.ResponseWriter, r *http.Request) {
	var req hiddenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Hidden == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("hidden", "必須項目です"))
		return
	}
	h.withItem(w, r, func(ctx context.Context, userID, id string, mode model.Mode) error {
		return h.service.ToggleHidden(ctx, userID, id, *req.Hidden, mode)
	})
}

// SetPinned はアイテムのピン留めフラグを設定する。
// PUT /api/items/{mode}/{id}/pinned  {"pinned": true}
func (h *ItemHandler) SetPinned(w http.ResponseWriter, r *http.Request) {
	var req pinnedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Pinned == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("pinned", "必須項目です"))
		return
	}
	h.withItem(w, r, func(ctx context.Context, userID, id string, mode model.Mode) error {
		return h.service.TogglePin(ctx, userID, id, *req.Pinned, mode)
	})
}

// withItem は{mode}と{id}を持つ書き込み操作の共通処理。成功時は204を返す。
func (h *ItemHandler) withItem(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, userID, id string, mode model.Mode) error,
) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	if err := fn(ctx, userID, chi.URLParam(r, "id"), mode); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompleteItem は予定アイテムを評価付きで完了リストへ移動する。
// POST /api/items/planned/{id}/complete  {"rating": 8}
func (h *ItemHandler) CompleteItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if !requirePlanned(w, r) {
		return
	}

	var req completeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Rating == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("rating", "必須項目です"))
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	completed, err := h.service.MoveToCompleted(ctx, userID, chi.URLParam(r, "id"), *req.Rating)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(*completed, model.ModeCompleted, h.renderer))
}

// ImportItems はフィードのエントリを予定アイテムとして取り込む。
// POST /api/items/planned/import  {"url": "https://..."}
func (h *ItemHandler) ImportItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if !requirePlanned(w, r) {
		return
	}
	if h.importer == nil {
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewInternalError())
		return
	}

	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.importer.Import(r.Context(), userID, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, importResponse{
		FeedURL:   res.FeedURL,
		FeedTitle: res.FeedTitle,
		Imported:  toItemResponses(res.Imported, model.ModePlanned, h.renderer),
		Skipped:   res.Skipped,
	})
}

// requirePlanned は{mode}が予定モードであることを確認する。
func requirePlanned(w http.ResponseWriter, r *http.Request) bool {
	mode, ok := modeParam(w, r)
	if !ok {
		return false
	}
	if mode != model.ModePlanned {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidModeError(string(mode)))
		return false
	}
	return true
}
