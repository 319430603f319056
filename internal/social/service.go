// Package social はプロフィール・フォロー・いいねなど、ユーザー間の機能を提供する。
package social

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/realtime"
	"github.com/ratioglobus/my-world/internal/repository"
)

const (
	// SearchLimit はプロフィール検索の最大件数。
	SearchLimit = 20

	// DefaultNickname はメールアドレスからニックネームを決められない場合の初期値。
	DefaultNickname = "新しいユーザー"
	// UnnamedNickname はニックネーム未設定のユーザーの表示名。
	UnnamedNickname = "名無し"

	likesTable   = "likes"
	followsTable = "follows"
)

// ItemReader は他ユーザーのアイテムを読み取るインターフェース。
// item.Serviceが実装する。
type ItemReader interface {
	List(ctx context.Context, viewerID, ownerID string, mode model.Mode) ([]model.Item, error)
	Get(ctx context.Context, ownerID, id string, mode model.Mode) (*model.Item, error)
}

// ProfileView は他ユーザーから見たプロフィール。
type ProfileView struct {
	Profile     model.Profile
	IsFollowing bool
}

// Service はソーシャル機能のサービス。
type Service struct {
	users     repository.UserRepository
	profiles  repository.ProfileRepository
	follows   repository.FollowRepository
	likes     repository.LikeRepository
	items     ItemReader
	publisher realtime.Publisher

	now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	profiles repository.ProfileRepository,
	follows repository.FollowRepository,
	likes repository.LikeRepository,
	items ItemReader,
	publisher realtime.Publisher,
) *Service {
	return &Service{
		users:     users,
		profiles:  profiles,
		follows:   follows,
		likes:     likes,
		items:     items,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreateProfile は自分のプロフィールを返す。未作成の場合は非公開で作成する。
// 初期ニックネームはメールアドレスのローカル部。
func (s *Service) GetOrCreateProfile(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗: %w", err)
	}
	if p != nil {
		return p, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	created, err := s.profiles.CreateIfAbsent(ctx, &model.Profile{
		UserID:    userID,
		Nickname:  NicknameFromEmail(user.Email),
		Email:     user.Email,
		IsPublic:  false,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("プロフィールの作成に失敗: %w", err)
	}
	return created, nil
}

// NicknameFromEmail はメールアドレスのローカル部を初期ニックネームとして返す。
func NicknameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.TrimSpace(local)
	if local == "" {
		return DefaultNickname
	}
	return local
}

// UpdateNickname はニックネームを更新する。
// 前後の空白は除去し、空または変更なしの場合は何もしない。
func (s *Service) UpdateNickname(ctx context.Context, userID, nickname string) (*model.Profile, error) {
	p, err := s.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || nickname == p.Nickname {
		return p, nil
	}
	if err := s.profiles.UpdateNickname(ctx, userID, nickname); err != nil {
		return nil, fmt.Errorf("ニックネームの更新に失敗: %w", err)
	}
	p.Nickname = nickname
	return p, nil
}

// SetPublic はプロフィールの公開設定を変更する。
func (s *Service) SetPublic(ctx context.Context, userID string, public bool) (*model.Profile, error) {
	p, err := s.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.IsPublic == public {
		return p, nil
	}
	if err := s.profiles.SetPublic(ctx, userID, public); err != nil {
		return nil, fmt.Errorf("公開設定の更新に失敗: %w", err)
	}
	p.IsPublic = public
	return p, nil
}

// GetProfile は他ユーザーのプロフィールをフォロー状態付きで返す。
// 非公開のプロフィールは本人以外にはPROFILE_PRIVATEを返す。
func (s *Service) GetProfile(ctx context.Context, viewerID, userID string) (*ProfileView, error) {
	p, err := s.visibleProfile(ctx, viewerID, userID)
	if err != nil {
		return nil, err
	}
	view := &ProfileView{Profile: *p}
	if viewerID != userID {
		view.IsFollowing, err = s.IsFollowing(ctx, viewerID, userID)
		if err != nil {
			return nil, err
		}
	}
	return view, nil
}

// visibleProfile は閲覧者が参照できるプロフィールを返す。
func (s *Service) visibleProfile(ctx context.Context, viewerID, userID string) (*model.Profile, error) {
	if viewerID == userID {
		return s.GetOrCreateProfile(ctx, userID)
	}
	p, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗: %w", err)
	}
	if p == nil {
		return nil, model.NewProfileNotFoundError(userID)
	}
	if !p.IsPublic {
		return nil, model.NewProfilePrivateError()
	}
	return p, nil
}

// SearchProfiles は公開プロフィールをニックネームの部分一致で検索する。
// 大文字小文字を区別せず、最大SearchLimit件を返す。
func (s *Service) SearchProfiles(ctx context.Context, query string) ([]model.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.Profile{}, nil
	}
	found, err := s.profiles.SearchPublic(ctx, query, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("プロフィール検索に失敗: %w", err)
	}

	seen := make(map[string]bool, len(found))
	out := make([]model.Profile, 0, len(found))
	for _, p := range found {
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		out = append(out, p)
	}
	return out, nil
}

// Follow は公開ユーザーをフォローする。既にフォロー済みでも成功する。
func (s *Service) Follow(ctx context.Context, followerID, followingID string) error {
	if followerID == followingID {
		return model.NewSelfFollowError()
	}
	if _, err := s.visibleProfile(ctx, followerID, followingID); err != nil {
		return err
	}
	if err := s.follows.Create(ctx, followerID, followingID); err != nil {
		return fmt.Errorf("フォローに失敗: %w", err)
	}
	s.notify(ctx, followsTable, followingID, model.ChangeInsert, followerID)
	return nil
}

// Unfollow はフォローを解除する。フォローしていない場合も成功する。
func (s *Service) Unfollow(ctx context.Context, followerID, followingID string) error {
	if followerID == followingID {
		return model.NewSelfFollowError()
	}
	if err := s.follows.Delete(ctx, followerID, followingID); err != nil {
		return fmt.Errorf("フォロー解除に失敗: %w", err)
	}
	s.notify(ctx, followsTable, followingID, model.ChangeDelete, followerID)
	return nil
}

// IsFollowing はフォロー中かどうかを返す。
func (s *Service) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	ok, err := s.follows.Exists(ctx, followerID, followingID)
	if err != nil {
		return false, fmt.Errorf("フォロー状態の取得に失敗: %w", err)
	}
	return ok, nil
}

// ListFollowing はフォロー中のユーザーを返す。
// 重複は除き、ニックネーム未設定のユーザーはUnnamedNicknameで表示する。
func (s *Service) ListFollowing(ctx context.Context, followerID string) ([]model.FollowedProfile, error) {
	list, err := s.follows.ListFollowing(ctx, followerID)
	if err != nil {
		return nil, fmt.Errorf("フォロー一覧の取得に失敗: %w", err)
	}

	seen := make(map[string]bool, len(list))
	out := make([]model.FollowedProfile, 0, len(list))
	for _, f := range list {
		if seen[f.UserID] {
			continue
		}
		seen[f.UserID] = true
		if strings.TrimSpace(f.Nickname) == "" {
			f.Nickname = UnnamedNickname
		}
		out = append(out, f)
	}
	return out, nil
}

// PublicItems は他ユーザーの公開アイテムをいいね状態付きで返す。
// 所有者のプロフィールが公開されている必要がある。非表示・アーカイブ済みは含まない。
func (s *Service) PublicItems(ctx context.Context, viewerID, ownerID string, mode model.Mode) ([]model.Item, error) {
	if _, err := s.visibleProfile(ctx, viewerID, ownerID); err != nil {
		return nil, err
	}
	items, err := s.items.List(ctx, viewerID, ownerID, mode)
	if err != nil {
		return nil, err
	}

	out := make([]model.Item, 0, len(items))
	for _, it := range items {
		if it.IsHidden || it.IsArchived {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// ToggleLike は他ユーザーの公開アイテムへのいいねを設定・解除し、更新後のいいね状態を返す。
// 自分のアイテム、非公開プロフィール、非表示・アーカイブ済みのアイテムにはいいねできない。
func (s *Service) ToggleLike(ctx context.Context, actorID, ownerID string, mode model.Mode, itemID string, liked bool) (*model.LikeState, error) {
	if actorID == ownerID {
		return nil, model.NewLikeNotAllowedError()
	}
	if _, err := s.visibleProfile(ctx, actorID, ownerID); err != nil {
		return nil, err
	}
	it, err := s.items.Get(ctx, ownerID, itemID, mode)
	if err != nil {
		return nil, err
	}
	if it.IsHidden || it.IsArchived {
		return nil, model.NewLikeNotAllowedError()
	}

	if liked {
		err = s.likes.Create(ctx, actorID, mode, itemID)
	} else {
		err = s.likes.Delete(ctx, actorID, mode, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("いいねの更新に失敗: %w", err)
	}

	state, err := s.likes.State(ctx, mode, itemID, actorID)
	if err != nil {
		return nil, fmt.Errorf("いいね状態の取得に失敗: %w", err)
	}
	op := model.ChangeInsert
	if !liked {
		op = model.ChangeDelete
	}
	s.notify(ctx, likesTable, ownerID, op, itemID)
	return state, nil
}

func (s *Service) notify(ctx context.Context, table, ownerID string, op model.ChangeOp, rowID string) {
	realtime.Notify(ctx, s.publisher, model.ChangeEvent{Table: table, OwnerID: ownerID, Op: op, RowID: rowID, At: s.now()})
}
