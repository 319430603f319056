package handler

import (
	"time"

	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/project"
	"github.com/ratioglobus/my-world/internal/security"
)

// itemResponse はアイテムのレスポンス。
// モードにより意味を持たないフィールドは省略する。
type itemResponse struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Title       string     `json:"title"`
	Category    string     `json:"category,omitempty"`
	Priority    string     `json:"priority"`
	Rating      *int       `json:"rating,omitempty"`
	Comment     string     `json:"comment"`
	CommentHTML string     `json:"comment_html"` // サニタイズ済みHTML
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	IsArchived  bool       `json:"is_archived"`
	IsHidden    bool       `json:"is_hidden"`
	IsPinned    bool       `json:"is_pinned"`
	Status      string     `json:"status,omitempty"`
	Progress    *int       `json:"progress,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	LikesCount  int        `json:"likes_count"`
	LikedByMe   bool       `json:"liked_by_me"`
}

// itemListResponse は表示用に絞り込んだアイテム一覧のレスポンス。
type itemListResponse struct {
	Mode         string         `json:"mode"`
	Items        []itemResponse `json:"items"`
	Page         int            `json:"page"`
	TotalPages   int            `json:"total_pages"`
	TotalMatched int            `json:"total_matched"`
	EmptyMessage string         `json:"empty_message,omitempty"`
}

// stepResponse はプロジェクトステップのレスポンス。
type stepResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// stepResultResponse はステップ変更後のステップと親プロジェクトのレスポンス。
type stepResultResponse struct {
	Step    *stepResponse `json:"step,omitempty"`
	Project *itemResponse `json:"project,omitempty"`
}

// discoveryResponse は気づきメモのレスポンス。
type discoveryResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
}

// profileResponse はプロフィールのレスポンス。
type profileResponse struct {
	UserID      string    `json:"user_id"`
	Nickname    string    `json:"nickname"`
	Email       string    `json:"email,omitempty"`
	IsPublic    bool      `json:"is_public"`
	IsFollowing bool      `json:"is_following"`
	ShareURL    string    `json:"share_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// followedProfileResponse はフォロー一覧の1件。
type followedProfileResponse struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
}

// likeResponse はいいね操作後の集計状態。
type likeResponse struct {
	ItemID     string `json:"item_id"`
	LikesCount int    `json:"likes_count"`
	LikedByMe  bool   `json:"liked_by_me"`
}

// toItemResponse はmodel.Itemをレスポンス型に変換する。
func toItemResponse(it model.Item, mode model.Mode, renderer security.CommentRenderer) itemResponse {
	resp := itemResponse{
		ID:          it.ID,
		OwnerID:     it.OwnerID,
		Title:       it.Title,
		Priority:    string(it.Priority),
		Comment:     it.Comment,
		CreatedAt:   it.CreatedAt,
		CompletedAt: it.CompletedAt,
		IsArchived:  it.IsArchived,
		IsHidden:    it.IsHidden,
		IsPinned:    it.IsPinned,
		LikesCount:  it.LikesCount,
		LikedByMe:   it.LikedByMe,
	}
	if renderer != nil {
		resp.CommentHTML = renderer.Render(it.Comment)
	}

	switch mode {
	case model.ModeProjects:
		progress := it.Progress
		resp.Status = string(it.Status)
		resp.Progress = &progress
		resp.Deadline = it.Deadline
	case model.ModeCompleted:
		resp.Category = string(it.Category)
		resp.Rating = it.Rating
	default:
		resp.Category = string(it.Category)
	}
	return resp
}

// toItemResponses はアイテム一覧をレスポンス型に変換する。空の場合も空配列を返す。
func toItemResponses(items []model.Item, mode model.Mode, renderer security.CommentRenderer) []itemResponse {
	results := make([]itemResponse, len(items))
	for i, it := range items {
		results[i] = toItemResponse(it, mode, renderer)
	}
	return results
}

func toStepResponse(s model.Step) stepResponse {
	return stepResponse{
		ID:        s.ID,
		ProjectID: s.ProjectID,
		Title:     s.Title,
		Completed: s.Completed,
		CreatedAt: s.CreatedAt,
	}
}

// toStepResultResponse はproject.StepResultをレスポンス型に変換する。
func toStepResultResponse(res *project.StepResult, renderer security.CommentRenderer) stepResultResponse {
	var out stepResultResponse
	if res == nil {
		return out
	}
	if res.Step != nil {
		step := toStepResponse(*res.Step)
		out.Step = &step
	}
	if res.Project != nil {
		p := toItemResponse(*res.Project, model.ModeProjects, renderer)
		out.Project = &p
	}
	return out
}

func toDiscoveryResponse(d model.Discovery) discoveryResponse {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return discoveryResponse{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Tags:        tags,
		CreatedAt:   d.CreatedAt,
	}
}

// toProfileResponse はプロフィールをレスポンス型に変換する。
// メールアドレスは本人のプロフィールの場合のみ含める。
func toProfileResponse(p model.Profile, isFollowing, includeEmail bool, shareURL string) profileResponse {
	resp := profileResponse{
		UserID:      p.UserID,
		Nickname:    p.Nickname,
		IsPublic:    p.IsPublic,
		IsFollowing: isFollowing,
		ShareURL:    shareURL,
		CreatedAt:   p.CreatedAt,
	}
	if includeEmail {
		resp.Email = p.Email
	}
	return resp
}

func toFollowedProfileResponses(profiles []model.FollowedProfile) []followedProfileResponse {
	results := make([]followedProfileResponse, len(profiles))
	for i, p := range profiles {
		results[i] = followedProfileResponse{UserID: p.UserID, Nickname: p.Nickname, Email: p.Email}
	}
	return results
}
