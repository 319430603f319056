package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/security"
	"github.com/ratioglobus/my-world/internal/social"
	"github.com/ratioglobus/my-world/internal/viewmodel"
)

// SocialServiceInterface はプロフィール・フォロー・いいねのハンドラーが必要とするサービスインターフェース。
// social.Serviceが実装する。
type SocialServiceInterface interface {
	GetOrCreateProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpdateNickname(ctx context.Context, userID, nickname string) (*model.Profile, error)
	SetPublic(ctx context.Context, userID string, public bool) (*model.Profile, error)
	GetProfile(ctx context.Context, viewerID, userID string) (*social.ProfileView, error)
	SearchProfiles(ctx context.Context, query string) ([]model.Profile, error)
	Follow(ctx context.Context, followerID, followingID string) error
	Unfollow(ctx context.Context, followerID, followingID string) error
	ListFollowing(ctx context.Context, followerID string) ([]model.FollowedProfile, error)
	PublicItems(ctx context.Context, viewerID, ownerID string, mode model.Mode) ([]model.Item, error)
	ToggleLike(ctx context.Context, actorID, ownerID string, mode model.Mode, itemID string, liked bool) (*model.LikeState, error)
}

// SocialHandler はプロフィール・フォロー・いいねのHTTPハンドラー。
type SocialHandler struct {
	service     SocialServiceInterface
	renderer    security.CommentRenderer
	baseURL     string
	callTimeout time.Duration
}

// NewSocialHandler はSocialHandlerを生成する。
// baseURLは共有用プロフィールURLの組み立てに使用する。
func NewSocialHandler(service SocialServiceInterface, renderer security.CommentRenderer, baseURL string, callTimeout time.Duration) *SocialHandler {
	return &SocialHandler{
		service:     service,
		renderer:    renderer,
		baseURL:     strings.TrimRight(baseURL, "/"),
		callTimeout: callTimeout,
	}
}

type updateProfileRequest struct {
	Nickname *string `json:"nickname"`
	IsPublic *bool   `json:"is_public"`
}

// shareURL は公開プロフィールの共有用URLを返す。
func (h *SocialHandler) shareURL(userID string) string {
	if h.baseURL == "" {
		return ""
	}
	return h.baseURL + "/profile/" + userID
}

// GetMyProfile は自分のプロフィールを返す。未作成の場合は作成する。
// GET /api/profile
func (h *SocialHandler) GetMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	p, err := h.service.GetOrCreateProfile(ctx, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(*p, false, true, h.shareURL(userID)))
}

// UpdateMyProfile はニックネームと公開設定を更新する。
// PATCH /api/profile  {"nickname": "...", "is_public": true}
func (h *SocialHandler) UpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Nickname == nil && req.IsPublic == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("body", "nicknameまたはis_publicのいずれかを指定してください"))
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	var (
		p   *model.Profile
		err error
	)
	if req.Nickname != nil {
		if p, err = h.service.UpdateNickname(ctx, userID, *req.Nickname); err != nil {
			handleServiceError(w, err)
			return
		}
	}
	if req.IsPublic != nil {
		if p, err = h.service.SetPublic(ctx, userID, *req.IsPublic); err != nil {
			handleServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toProfileResponse(*p, false, true, h.shareURL(userID)))
}

// SearchProfiles は公開プロフィールをニックネームで検索する。
// GET /api/profiles?q=...
func (h *SocialHandler) SearchProfiles(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	found, err := h.service.SearchProfiles(ctx, r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]profileResponse, len(found))
	for i, p := range found {
		resp[i] = toProfileResponse(p, false, false, h.shareURL(p.UserID))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUserProfile は他ユーザーのプロフィールをフォロー状態付きで返す。
// GET /api/users/{id}/profile
func (h *SocialHandler) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "id")

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	view, err := h.service.GetProfile(ctx, viewerID, targetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(view.Profile, view.IsFollowing, viewerID == targetID, h.shareURL(targetID)))
}

// ListUserItems は公開ユーザーのアイテムをいいね状態付きで返す。
// GET /api/users/{id}/items/{mode}
func (h *SocialHandler) ListUserItems(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	items, err := h.service.PublicItems(ctx, viewerID, chi.URLParam(r, "id"), mode)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	viewmodel.SortItems(items)
	writeJSON(w, http.StatusOK, toItemResponses(items, mode, h.renderer))
}

// Follow はユーザーをフォローする。
// PUT /api/users/{id}/follow
func (h *SocialHandler) Follow(w http.ResponseWriter, r *http.Request) {
	h.withTarget(w, r, h.service.Follow)
}

// Unfollow はフォローを解除する。
// DELETE /api/users/{id}/follow
func (h *SocialHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	h.withTarget(w, r, h.service.Unfollow)
}

func (h *SocialHandler) withTarget(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actorID, targetID string) error) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	if err := fn(ctx, userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListFollowing はフォロー中のユーザー一覧を返す。
// GET /api/follows
func (h *SocialHandler) ListFollowing(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := callTimeout(r, h.callTimeout)
	defer cancel()

	list, err := h.service.ListFollowing(ctx, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFollowedProfileResponses(list))
}

// Like は他ユーザーのアイテムにいいねする。
// PUT /api/users/{id}/items/{mode}/{itemID}/like
func (h *SocialHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.setLike(w, r, true)
}

// Unlike はいいねを取り消す。
// DELETE /api/users/{id}/items/{mode}/{itemID}/like
func (h *SocialHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	h.setLike(w, r, false)
}

func (h *SocialHandler) setLike(w http.ResponseWriter, r *http.Request, liked bool) {
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

	state, err := h.service.ToggleLike(ctx, userID, chi.URLParam(r, "id"), mode, chi.URLParam(r, "itemID"), liked)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, likeResponse{
		ItemID:     state.ItemID,
		LikesCount: state.LikesCount,
		LikedByMe:  state.LikedByMe,
	})
}
