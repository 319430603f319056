package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ratioglobus/my-world/internal/discovery"
	"github.com/ratioglobus/my-world/internal/importer"
	"github.com/ratioglobus/my-world/internal/middleware"
	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/project"
	"github.com/ratioglobus/my-world/internal/social"
	"github.com/ratioglobus/my-world/internal/viewmodel"
)

// --- テストヘルパー ---

// withUserID はテスト用にコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。
// kvはキーと値を交互に並べる。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// assertErrorCode はステータスコードとエラーコードを検証するヘルパー。
func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Errorf("status = %d, want %d (body=%s)", w.Code, wantStatus, w.Body.String())
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != wantCode {
		t.Errorf("code = %q, want %q", body["code"], wantCode)
	}
}

func intPtr(v int) *int { return &v }

// --- モック定義 ---

// mockItemService はItemServiceInterfaceのモック実装。
type mockItemService struct {
	visibleFn         func(ctx context.Context, ownerID string, mode model.Mode, filters viewmodel.Filters, page, pageSize int) (viewmodel.Result, error)
	listArchivedFn    func(ctx context.Context, ownerID string, mode model.Mode) ([]model.Item, error)
	addFn             func(ctx context.Context, ownerID string, draft model.ItemDraft, mode model.Mode) (*model.Item, error)
	updateFn          func(ctx context.Context, ownerID, id string, patch model.ItemPatch, mode model.Mode) (*model.Item, error)
	deleteFn          func(ctx context.Context, ownerID, id string, mode model.Mode) error
	archiveFn         func(ctx context.Context, ownerID, id string, mode model.Mode) error
	restoreFn         func(ctx context.Context, ownerID, id string, mode model.Mode) error
	toggleHiddenFn    func(ctx context.Context, ownerID, id string, hidden bool, mode model.Mode) error
	togglePinFn       func(ctx context.Context, ownerID, id string, pinned bool, mode model.Mode) error
	moveToCompletedFn func(ctx context.Context, ownerID, plannedID string, rating int) (*model.Item, error)
}

func (m *mockItemService) Visible(ctx context.Context, ownerID string, mode model.Mode, filters viewmodel.Filters, page, pageSize int) (viewmodel.Result, error) {
	if m.visibleFn != nil {
		return m.visibleFn(ctx, ownerID, mode, filters, page, pageSize)
	}
	return viewmodel.Result{Items: []model.Item{}, Page: page}, nil
}

func (m *mockItemService) ListArchived(ctx context.Context, ownerID string, mode model.Mode) ([]model.Item, error) {
	if m.listArchivedFn != nil {
		return m.listArchivedFn(ctx, ownerID, mode)
	}
	return nil, nil
}

func (m *mockItemService) Add(ctx context.Context, ownerID string, draft model.ItemDraft, mode model.Mode) (*model.Item, error) {
	if m.addFn != nil {
		return m.addFn(ctx, ownerID, draft, mode)
	}
	return &model.Item{ID: "item-new", OwnerID: ownerID, Title: draft.Title}, nil
}

func (m *mockItemService) Update(ctx context.Context, ownerID, id string, patch model.ItemPatch, mode model.Mode) (*model.Item, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, ownerID, id, patch, mode)
	}
	return &model.Item{ID: id, OwnerID: ownerID}, nil
}

func (m *mockItemService) Delete(ctx context.Context, ownerID, id string, mode model.Mode) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ownerID, id, mode)
	}
	return nil
}

func (m *mockItemService) Archive(ctx context.Context, ownerID, id string, mode model.Mode) error {
	if m.archiveFn != nil {
		return m.archiveFn(ctx, ownerID, id, mode)
	}
	return nil
}

func (m *mockItemService) Restore(ctx context.Context, ownerID, id string, mode model.Mode) error {
	if m.restoreFn != nil {
		return m.restoreFn(ctx, ownerID, id, mode)
	}
	return nil
}

func (m *mockItemService) ToggleHidden(ctx context.Context, ownerID, id string, hidden bool, mode model.Mode) error {
	if m.toggleHiddenFn != nil {
		return m.toggleHiddenFn(ctx, ownerID, id, hidden, mode)
	}
	return nil
}

func (m *mockItemService) TogglePin(ctx context.Context, ownerID, id string, pinned bool, mode model.Mode) error {
	if m.togglePinFn != nil {
		return m.togglePinFn(ctx, ownerID, id, pinned, mode)
	}
	return nil
}

func (m *mockItemService) MoveToCompleted(ctx context.Context, ownerID, plannedID string, rating int) (*model.Item, error) {
	if m.moveToCompletedFn != nil {
		return m.moveToCompletedFn(ctx, ownerID, plannedID, rating)
	}
	return &model.Item{ID: "completed-1", OwnerID: ownerID, Rating: &rating}, nil
}

// mockFeedImporter はFeedImporterのモック実装。
type mockFeedImporter struct {
	importFn func(ctx context.Context, ownerID, rawURL string) (*importer.Result, error)
}

func (m *mockFeedImporter) Import(ctx context.Context, ownerID, rawURL string) (*importer.Result, error) {
	if m.importFn != nil {
		return m.importFn(ctx, ownerID, rawURL)
	}
	return &importer.Result{Imported: []model.Item{}}, nil
}

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	signUpFn         func(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	signInFn         func(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	signOutFn        func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return nil, nil, nil
}

func (m *mockAuthService) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, nil, nil
}

func (m *mockAuthService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

// mockStepService はStepServiceInterfaceのモック実装。
type mockStepService struct {
	listStepsFn  func(ctx context.Context, ownerID, projectID string) ([]model.Step, error)
	addStepFn    func(ctx context.Context, ownerID, projectID, title string) (*project.StepResult, error)
	toggleStepFn func(ctx context.Context, ownerID, projectID, stepID string, completed bool) (*project.StepResult, error)
	deleteStepFn func(ctx context.Context, ownerID, projectID, stepID string) (*model.Item, error)
}

func (m *mockStepService) ListSteps(ctx context.Context, ownerID, projectID string) ([]model.Step, error) {
	if m.listStepsFn != nil {
		return m.listStepsFn(ctx, ownerID, projectID)
	}
	return nil, nil
}

func (m *mockStepService) AddStep(ctx context.Context, ownerID, projectID, title string) (*project.StepResult, error) {
	if m.addStepFn != nil {
		return m.addStepFn(ctx, ownerID, projectID, title)
	}
	return &project.StepResult{}, nil
}

func (m *mockStepService) ToggleStep(ctx context.Context, ownerID, projectID, stepID string, completed bool) (*project.StepResult, error) {
	if m.toggleStepFn != nil {
		return m.toggleStepFn(ctx, ownerID, projectID, stepID, completed)
	}
	return &project.StepResult{}, nil
}

func (m *mockStepService) DeleteStep(ctx context.Context, ownerID, projectID, stepID string) (*model.Item, error) {
	if m.deleteStepFn != nil {
		return m.deleteStepFn(ctx, ownerID, projectID, stepID)
	}
	return &model.Item{ID: projectID, OwnerID: ownerID}, nil
}

// mockDiscoveryService はDiscoveryServiceInterfaceのモック実装。
type mockDiscoveryService struct {
	listFn          func(ctx context.Context, ownerID string) ([]model.Discovery, error)
	addFn           func(ctx context.Context, ownerID string, d discovery.Draft) (*model.Discovery, error)
	updateFn        func(ctx context.Context, ownerID, id string, p discovery.Patch) (*model.Discovery, error)
	deleteFn        func(ctx context.Context, ownerID, id string) error
	suggestedTagsFn func(ctx context.Context, ownerID, discoveryID string) ([]string, error)
}

func (m *mockDiscoveryService) List(ctx context.Context, ownerID string) ([]model.Discovery, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockDiscoveryService) Add(ctx context.Context, ownerID string, d discovery.Draft) (*model.Discovery, error) {
	if m.addFn != nil {
		return m.addFn(ctx, ownerID, d)
	}
	return &model.Discovery{ID: "d-new", OwnerID: ownerID, Title: d.Title, Tags: d.Tags}, nil
}

func (m *mockDiscoveryService) Update(ctx context.Context, ownerID, id string, p discovery.Patch) (*model.Discovery, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, ownerID, id, p)
	}
	return &model.Discovery{ID: id, OwnerID: ownerID}, nil
}

func (m *mockDiscoveryService) Delete(ctx context.Context, ownerID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ownerID, id)
	}
	return nil
}

func (m *mockDiscoveryService) SuggestedTags(ctx context.Context, ownerID, discoveryID string) ([]string, error) {
	if m.suggestedTagsFn != nil {
		return m.suggestedTagsFn(ctx, ownerID, discoveryID)
	}
	return nil, nil
}

// mockSocialService はSocialServiceInterfaceのモック実装。
type mockSocialService struct {
	getOrCreateProfileFn func(ctx context.Context, userID string) (*model.Profile, error)
	updateNicknameFn     func(ctx context.Context, userID, nickname string) (*model.Profile, error)
	setPublicFn          func(ctx context.Context, userID string, public bool) (*model.Profile, error)
	getProfileFn         func(ctx context.Context, viewerID, userID string) (*social.ProfileView, error)
	searchProfilesFn     func(ctx context.Context, query string) ([]model.Profile, error)
	followFn             func(ctx context.Context, followerID, followingID string) error
	unfollowFn           func(ctx context.Context, followerID, followingID string) error
	listFollowingFn      func(ctx context.Context, followerID string) ([]model.FollowedProfile, error)
	publicItemsFn        func(ctx context.Context, viewerID, ownerID string, mode model.Mode) ([]model.Item, error)
	toggleLikeFn         func(ctx context.Context, actorID, ownerID string, mode model.Mode, itemID string, liked bool) (*model.LikeState, error)
}

func (m *mockSocialService) GetOrCreateProfile(ctx context.Context, userID string) (*model.Profile, error) {
	if m.getOrCreateProfileFn != nil {
		return m.getOrCreateProfileFn(ctx, userID)
	}
	return &model.Profile{UserID: userID}, nil
}

func (m *mockSocialService) UpdateNickname(ctx context.Context, userID, nickname string) (*model.Profile, error) {
	if m.updateNicknameFn != nil {
		return m.updateNicknameFn(ctx, userID, nickname)
	}
	return &model.Profile{UserID: userID, Nickname: nickname}, nil
}

func (m *mockSocialService) SetPublic(ctx context.Context, userID string, public bool) (*model.Profile, error) {
	if m.setPublicFn != nil {
		return m.setPublicFn(ctx, userID, public)
	}
	return &model.Profile{UserID: userID, IsPublic: public}, nil
}

func (m *mockSocialService) GetProfile(ctx context.Context, viewerID, userID string) (*social.ProfileView, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, viewerID, userID)
	}
	return &social.ProfileView{Profile: model.Profile{UserID: userID}}, nil
}

func (m *mockSocialService) SearchProfiles(ctx context.Context, query string) ([]model.Profile, error) {
	if m.searchProfilesFn != nil {
		return m.searchProfilesFn(ctx, query)
	}
	return []model.Profile{}, nil
}

func (m *mockSocialService) Follow(ctx context.Context, followerID, followingID string) error {
	if m.followFn != nil {
		return m.followFn(ctx, followerID, followingID)
	}
	return nil
}

func (m *mockSocialService) Unfollow(ctx context.Context, followerID, followingID string) error {
	if m.unfollowFn != nil {
		return m.unfollowFn(ctx, followerID, followingID)
	}
	return nil
}

func (m *mockSocialService) ListFollowing(ctx context.Context, followerID string) ([]model.FollowedProfile, error) {
	if m.listFollowingFn != nil {
		return m.listFollowingFn(ctx, followerID)
	}
	return []model.FollowedProfile{}, nil
}

func (m *mockSocialService) PublicItems(ctx context.Context, viewerID, ownerID string, mode model.Mode) ([]model.Item, error) {
	if m.publicItemsFn != nil {
		return m.publicItemsFn(ctx, viewerID, ownerID, mode)
	}
	return []model.Item{}, nil
}

func (m *mockSocialService) ToggleLike(ctx context.Context, actorID, ownerID string, mode model.Mode, itemID string, liked bool) (*model.LikeState, error) {
	if m.toggleLikeFn != nil {
		return m.toggleLikeFn(ctx, actorID, ownerID, mode, itemID, liked)
	}
	return &model.LikeState{ItemID: itemID, LikedByMe: liked}, nil
}

// mockSubscriber はChangeSubscriberのモック実装。
type mockSubscriber struct {
	subscribeFn func(ctx context.Context, ownerID string) (<-chan model.ChangeEvent, func(), error)
}

func (m *mockSubscriber) Subscribe(ctx context.Context, ownerID string) (<-chan model.ChangeEvent, func(), error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, ownerID)
	}
	return make(chan model.ChangeEvent), func() {}, nil
}

// mockQuoteSource はQuoteSourceのモック実装。
type mockQuoteSource struct {
	quote model.Quote
}

func (m *mockQuoteSource) Random() model.Quote { return m.quote }

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	withdrawFn func(ctx context.Context, userID, password string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID, password string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID, password)
	}
	return nil
}
