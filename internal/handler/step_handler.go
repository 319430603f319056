package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/project"
	"github.com/ratioglobus/my-world/internal/security"
)

// StepServiceInterface はステップハンドラーが必要とするサービスインターフェース。
// project.Serviceが実装する。
type StepServiceInterface interface {
	ListSteps(ctx context.Context, ownerID, projectID string) ([]model.Step, error)
	AddStep(ctx context.Context, ownerID, projectID, title string) (*project.StepResult, error)
	ToggleStep(ctx context.Context, ownerID, projectID, stepID string, completed bool) (*project.StepResult, error)
	DeleteStep(ctx context.Context, ownerID, projectID, stepID string) (*model.Item, error)
}

// StepHandler はプロジェクトステップのHTTPハンドラー。
type StepHandler struct {
	service     StepServiceInterface
	renderer    security.CommentRenderer
	callTimeout time.Duration
}

// NewStepHandler はStepHandlerを生成する。
func NewStepHandler(service StepServiceInterface, renderer security.CommentRenderer, callTimeout time.Duration) *StepHandler {
	return &StepHandler{service: service, renderer: renderer, callTimeout: callTimeout}
}

type addStepRequest struct {
	Title string `json:"title"`
}

type toggleStepRequest struct {
	Completed *bool `json:"completed"`
}

// ListSteps はプロジェクトのステップ一覧を返す。
// GET /api/projects/{id}/steps
func (h *StepHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	steps, err := h.service.ListSteps(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]stepResponse, len(steps))
	for i, s := range steps {
		resp[i] = toStepResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddStep はステップを追加し、再計算後のプロジェクトと共に返す。
// POST /api/projects/{id}/steps  {"title": "..."}
func (h *StepHandler) AddStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addStepRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	res, err := h.service.AddStep(ctx, userID, chi.URLParam(r, "id"), req.Title)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStepResultResponse(res, h.renderer))
}

// ToggleStep はステップの完了状態を設定する。
// PUT /api/projects/{id}/steps/{stepID}  {"completed": true}
func (h *StepHandler) ToggleStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req toggleStepRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Completed == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("completed", "必須項目です"))
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	res, err := h.service.ToggleStep(ctx, userID, chi.URLParam(r, "id"), chi.URLParam(r, "stepID"), *req.Completed)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStepResultResponse(res, h.renderer))
}

// DeleteStep はステップを削除し、再計算後のプロジェクトを返す。
// DELETE /api/projects/{id}/steps/{stepID}
func (h *StepHandler) DeleteStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	updated, err := h.service.DeleteStep(ctx, userID, chi.URLParam(r, "id"), chi.URLParam(r, "stepID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStepResultResponse(&project.StepResult{Project: updated}, h.renderer))
}
