package handler

import (
	"net/http"

	"github.com/ratioglobus/my-world/internal/model"
)

// QuoteSource は名言をランダムに1件返すインターフェース。
type QuoteSource interface {
	Random() model.Quote
}

// QuoteHandler は名言ウィジェットのHTTPハンドラー。
type QuoteHandler struct {
	source QuoteSource
}

// NewQuoteHandler はQuoteHandlerを生成する。
func NewQuoteHandler(source QuoteSource) *QuoteHandler {
	return &QuoteHandler{source: source}
}

// Random は名言を1件返す。
// GET /api/quote
func (h *QuoteHandler) Random(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Random())
}
