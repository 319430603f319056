package handler

import (
	"context"
	"net/http"

	"github.com/ratioglobus/my-world/internal/middleware"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Withdraw(ctx context.Context, userID, password string) error
}

// UserHandler は退会のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookie  middleware.SessionCookieConfig
}

// NewUserHandler はUserHandlerを生成する。
// cookieは退会後にセッションCookieを削除する際の属性。
func NewUserHandler(service UserServiceInterface, cookie middleware.SessionCookieConfig) *UserHandler {
	return &UserHandler{service: service, cookie: cookie}
}

type withdrawRequest struct {
	Password string `json:"password"`
}

// Withdraw はパスワードを再確認してアカウントと所有データを削除する。
// DELETE /api/users/me  body: {"password": "..."}
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.ClearSessionCookie(w, h.cookie)
	w.WriteHeader(http.StatusNoContent)
}
