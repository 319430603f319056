package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ratioglobus/my-world/internal/middleware"
	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/viewmodel"
)

// mockSessionFinder はSessionFinderのモック実装。"valid-session"のみ有効とする。
type mockSessionFinder struct{}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if id == "valid-session" {
		return &model.Session{ID: id, UserID: "user-router", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return nil, nil
}

type routerFixture struct {
	router  http.Handler
	items   *mockItemService
	social  *mockSocialService
	users   *mockUserService
	metrics http.Handler
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	f := &routerFixture{
		items:  &mockItemService{},
		social: &mockSocialService{},
		users:  &mockUserService{},
		metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	}
	f.router = NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		MetricsHandler:    f.metrics,
		SessionFinder:     &mockSessionFinder{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		CSRF:              middleware.CSRFConfig{Secret: "router-test-secret"},

		AuthService:      &mockAuthService{},
		ItemService:      f.items,
		FeedImporter:     &mockFeedImporter{},
		StepService:      &mockStepService{},
		DiscoveryService: &mockDiscoveryService{},
		SocialService:    f.social,
		BaseURL:          "https://myworld.example.com",
		Subscriber:       &mockSubscriber{},
		Quotes:           &mockQuoteSource{quote: model.Quote{Text: "q", Author: "a"}},
		UserService:      f.users,
		CallTimeout:      time.Second,
	})
	return f
}

// csrfToken は/api/csrf-tokenからトークンを取得する。
func (f *routerFixture) csrfToken(t *testing.T) string {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode csrf token: %v", err)
	}
	if body["token"] == "" {
		t.Fatal("empty csrf token")
	}
	return body["token"]
}

// do は認証済みセッションとCSRFトークン付きでリクエストを送る。
func (f *routerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	if method != http.MethodGet {
		token := f.csrfToken(t)
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: token})
		req.Header.Set("X-CSRF-Token", token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// TestNewRouter_PublicEndpoints は認証不要のエンドポイントを検証する。
func TestNewRouter_PublicEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{"/health", "/metrics", "/api/csrf-token"} {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

// TestNewRouter_RequiresSession は認証が必要なルートがセッションなしで401を返すことを検証する。
func TestNewRouter_RequiresSession(t *testing.T) {
	f := newRouterFixture(t)

	paths := []string{
		"/api/items/planned",
		"/api/archive/completed",
		"/api/discoveries",
		"/api/profile",
		"/api/follows",
		"/api/realtime",
		"/api/quote",
	}
	for _, path := range paths {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusUnauthorized)
		}
	}
}

// TestNewRouter_ListItems は認証済みの一覧取得がセッションのユーザーで行われることを検証する。
func TestNewRouter_ListItems(t *testing.T) {
	f := newRouterFixture(t)
	var gotOwner string
	f.items.visibleFn = func(ctx context.Context, ownerID string, mode model.Mode, fl viewmodel.Filters, page, pageSize int) (viewmodel.Result, error) {
		gotOwner = ownerID
		return viewmodel.Result{Items: []model.Item{}, Page: page}, nil
	}

	w := f.do(t, http.MethodGet, "/api/items/projects?status=Paused", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if gotOwner != "user-router" {
		t.Errorf("owner = %q, want user-router", gotOwner)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", w.Header().Get("Cache-Control"))
	}
}

// TestNewRouter_MutationRequiresCSRF は変更系リクエストにCSRFトークンが必要なことを検証する。
func TestNewRouter_MutationRequiresCSRF(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/items/planned", strings.NewReader(`{"title":"x","category":"Book"}`))
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assertErrorCode(t, w, http.StatusForbidden, model.ErrCodeCSRFInvalid)

	w = f.do(t, http.MethodPost, "/api/items/planned", `{"title":"x","category":"Book"}`)
	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d (body=%s)", w.Code, http.StatusCreated, w.Body.String())
	}
}

// TestNewRouter_ItemRoutes はアイテムの各ルートが正しいハンドラーに振り分けられることを検証する。
func TestNewRouter_ItemRoutes(t *testing.T) {
	f := newRouterFixture(t)
	var calls []string
	f.items.moveToCompletedFn = func(ctx context.Context, ownerID, plannedID string, rating int) (*model.Item, error) {
		calls = append(calls, "complete:"+plannedID)
		return &model.Item{ID: "c1", Rating: &rating}, nil
	}
	f.items.togglePinFn = func(ctx context.Context, ownerID, id string, pinned bool, mode model.Mode) error {
		calls = append(calls, "pin:"+string(mode)+":"+id)
		return nil
	}

	if w := f.do(t, http.MethodPost, "/api/items/planned/p1/complete", `{"rating":6}`); w.Code != http.StatusCreated {
		t.Errorf("complete status = %d (body=%s)", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPut, "/api/items/projects/p2/pinned", `{"pinned":true}`); w.Code != http.StatusNoContent {
		t.Errorf("pinned status = %d", w.Code)
	}
	w := f.do(t, http.MethodPost, "/api/items/completed/p1/complete", `{"rating":6}`)
	assertErrorCode(t, w, http.StatusBadRequest, model.ErrCodeInvalidMode)

	if strings.Join(calls, ",") != "complete:p1,pin:projects:p2" {
		t.Errorf("calls = %v", calls)
	}
}

// TestNewRouter_UserRoutes は/api/users配下のルーティングを検証する。
func TestNewRouter_UserRoutes(t *testing.T) {
	f := newRouterFixture(t)
	var likeArgs []string
	f.social.toggleLikeFn = func(ctx context.Context, actorID, ownerID string, mode model.Mode, itemID string, liked bool) (*model.LikeState, error) {
		likeArgs = []string{actorID, ownerID, string(mode), itemID}
		return &model.LikeState{ItemID: itemID, LikesCount: 1, LikedByMe: true}, nil
	}
	withdrawn := ""
	f.users.withdrawFn = func(ctx context.Context, userID, password string) error {
		withdrawn = userID + ":" + password
		return nil
	}

	w := f.do(t, http.MethodPut, "/api/users/user-2/items/completed/item-5/like", "")
	if w.Code != http.StatusOK {
		t.Fatalf("like status = %d (body=%s)", w.Code, w.Body.String())
	}
	if strings.Join(likeArgs, ",") != "user-router,user-2,completed,item-5" {
		t.Errorf("like args = %v", likeArgs)
	}

	if w := f.do(t, http.MethodPut, "/api/users/user-2/follow", ""); w.Code != http.StatusNoContent {
		t.Errorf("follow status = %d", w.Code)
	}

	if w := f.do(t, http.MethodDelete, "/api/users/me", `{"password":"pw123456"}`); w.Code != http.StatusNoContent {
		t.Errorf("withdraw status = %d", w.Code)
	}
	if withdrawn != "user-router:pw123456" {
		t.Errorf("withdrawn = %q", withdrawn)
	}
}

// TestNewRouter_AuthRoutes は認証ルートがセッションなしで到達でき、CSRF検証を受けることを検証する。
func TestNewRouter_AuthRoutes(t *testing.T) {
	f := newRouterFixture(t)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{}`)))
	assertErrorCode(t, w, http.StatusForbidden, model.ErrCodeCSRFInvalid)

	token := f.csrfToken(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: token})
	req.Header.Set("X-CSRF-Token", token)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("logout status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

// TestNewRouter_CORSPreflight はプリフライトリクエストが204を返すことを検証する。
func TestNewRouter_CORSPreflight(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/items/planned", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
