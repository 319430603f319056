// Package handler はHTTP JSON APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ratioglobus/my-world/internal/middleware"
	"github.com/ratioglobus/my-world/internal/model"
)

// defaultCallTimeout はサービス呼び出しのタイムアウト（REMOTE_CALL_TIMEOUT未設定時）。
const defaultCallTimeout = 10 * time.Second

// maxRequestBody はJSONリクエストボディの最大バイト数。
const maxRequestBody = 1 << 20

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外は内部エラーとしてログに記録する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("service call timed out")
		writeAPIErrorResponse(w, http.StatusGatewayTimeout, model.NewInternalError())
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidMode, model.ErrCodeInvalidFilter,
		model.ErrCodeInvalidURL, model.ErrCodeSelfFollow:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeProfilePrivate, model.ErrCodeLikeNotAllowed, model.ErrCodeSSRFBlocked, model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	case model.ErrCodeItemNotFound, model.ErrCodeStepNotFound, model.ErrCodeDiscoveryNotFound,
		model.ErrCodeProfileNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailTaken:
		return http.StatusConflict
	case model.ErrCodeFeedNotDetected, model.ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeMovedItemLost, model.ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// requireUserID はコンテキストから認証済みユーザーIDを取り出す。
// 取得できない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return "", false
	}
	return userID, true
}

// modeParam はURLパラメータ {mode} を検証する。不正な場合はINVALID_MODEを書き込む。
func modeParam(w http.ResponseWriter, r *http.Request) (model.Mode, bool) {
	raw := chi.URLParam(r, "mode")
	mode, ok := model.ParseMode(raw)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidModeError(raw))
		return "", false
	}
	return mode, true
}

// decodeJSON はリクエストボディをvに読み込む。未知のフィールドは拒否する。
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("body", "JSONの形式が不正です"))
		return false
	}
	return true
}

// decodeRawObject はリクエストボディをキーごとの生JSONに読み込む。
// キーの検証はitemパッケージの正規化で行う。
func decodeRawObject(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, bool) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&raw); err != nil || raw == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("body", "JSONオブジェクトを指定してください"))
		return nil, false
	}
	return raw, true
}

// callTimeout はサービス呼び出し用にタイムアウト付きのコンテキストを返す。
func callTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultCallTimeout
	}
	return context.WithTimeout(r.Context(), d)
}
