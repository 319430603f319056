// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ratioglobus/my-world/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するセッション、プロフィール、アイテムはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ItemRepository は完了/予定/プロジェクトの各コレクションの永続化インターフェース。
// 変更操作は全てIDと所有者IDの両方でスコープする。
type ItemRepository interface {
	// List は所有者の全アイテム（アーカイブ済みを含む）をcreated_at降順で返す。
	// viewerIDが空でない場合はいいね状態を付与する。
	List(ctx context.Context, mode model.Mode, ownerID, viewerID string) ([]model.Item, error)

	// ListArchived は所有者のアーカイブ済みアイテムをcreated_at降順で返す。
	ListArchived(ctx context.Context, mode model.Mode, ownerID string) ([]model.Item, error)

	// ListPublic は非表示・アーカイブ済みを除いたアイテムをいいね状態付きで返す。
	ListPublic(ctx context.Context, mode model.Mode, ownerID, viewerID string) ([]model.Item, error)

	// FindByID は所有者のアイテムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, mode model.Mode, ownerID, id string) (*model.Item, error)

	// Create はアイテムを作成し、保存された行を返す。
	Create(ctx context.Context, mode model.Mode, item *model.Item) (*model.Item, error)

	// Update はアイテムを部分更新し、更新後の行を返す。見つからない場合はnilを返す。
	Update(ctx context.Context, mode model.Mode, ownerID, id string, patch model.ItemPatch) (*model.Item, error)

	// SetFlag はアイテムのフラグを設定する。対象が存在しない場合はfalseを返す。
	SetFlag(ctx context.Context, mode model.Mode, ownerID, id string, flag model.ItemFlag, value bool) (bool, error)

	// Delete はアイテムを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, mode model.Mode, ownerID, id string) (bool, error)

	// MoveToCompleted は予定アイテムを完了コレクションへ同一トランザクションで移動する。
	// 完了側への挿入後に予定側を削除する。予定アイテムが存在しない場合はnilを返す。
	MoveToCompleted(ctx context.Context, ownerID, plannedID, newID string, rating int, completedAt time.Time) (*model.Item, error)

	// UpdateProgress はプロジェクトの進捗を更新し、更新後の行を返す。
	UpdateProgress(ctx context.Context, ownerID, projectID string, progress int) (*model.Item, error)
}

// StepRepository はプロジェクトステップの永続化インターフェース。
type StepRepository interface {
	// ListByProject はプロジェクトのステップをcreated_at昇順で返す。
	ListByProject(ctx context.Context, ownerID, projectID string) ([]model.Step, error)
	// FindByID はステップを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, ownerID, stepID string) (*model.Step, error)
	// Create はステップを作成し、保存された行を返す。
	Create(ctx context.Context, step *model.Step) (*model.Step, error)
	// SetCompleted はステップの完了状態を更新する。見つからない場合はnilを返す。
	SetCompleted(ctx context.Context, ownerID, stepID string, completed bool) (*model.Step, error)
	// Delete はステップを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, ownerID, stepID string) (bool, error)
	// CountByProject はプロジェクトのステップ総数と完了数を返す。
	CountByProject(ctx context.Context, projectID string) (total, done int, err error)
}

// DiscoveryRepository は気づきの永続化インターフェース。
type DiscoveryRepository interface {
	// ListByOwner は所有者の気づきをcreated_at降順で返す。
	ListByOwner(ctx context.Context, ownerID string) ([]model.Discovery, error)
	// FindByID は気づきを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, ownerID, id string) (*model.Discovery, error)
	// Create は気づきを作成し、保存された行を返す。
	Create(ctx context.Context, d *model.Discovery) (*model.Discovery, error)
	// Update は気づきのタイトル・説明・タグを更新する。見つからない場合はnilを返す。
	Update(ctx context.Context, d *model.Discovery) (*model.Discovery, error)
	// Delete は気づきを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, ownerID, id string) (bool, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByUserID はプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
	// CreateIfAbsent はプロフィールが存在しない場合に作成し、現在の行を返す。
	CreateIfAbsent(ctx context.Context, p *model.Profile) (*model.Profile, error)
	// UpdateNickname はニックネームを更新する。
	UpdateNickname(ctx context.Context, userID, nickname string) error
	// SetPublic は公開設定を更新する。
	SetPublic(ctx context.Context, userID string, public bool) error
	// SearchPublic は公開プロフィールをニックネームの部分一致（大文字小文字を区別しない）で検索する。
	SearchPublic(ctx context.Context, query string, limit int) ([]model.Profile, error)
}

// FollowRepository はフォロー関係の永続化インターフェース。
type FollowRepository interface {
	// Create はフォロー関係を作成する。既に存在する場合は何もしない。
	Create(ctx context.Context, followerID, followingID string) error
	// Delete はフォロー関係を削除する。
	Delete(ctx context.Context, followerID, followingID string) error
	// Exists はフォロー関係が存在するかどうかを返す。
	Exists(ctx context.Context, followerID, followingID string) (bool, error)
	// ListFollowing はフォロー中のユーザーのプロフィール情報を返す。
	ListFollowing(ctx context.Context, followerID string) ([]model.FollowedProfile, error)
}

// LikeRepository はいいねの永続化インターフェース。
type LikeRepository interface {
	// Create はいいねを作成する。既に存在する場合は何もしない。
	Create(ctx context.Context, userID string, mode model.Mode, itemID string) error
	// Delete はいいねを削除する。
	Delete(ctx context.Context, userID string, mode model.Mode, itemID string) error
	// State はアイテムのいいね数と指定ユーザーのいいね状態を返す。
	State(ctx context.Context, mode model.Mode, itemID, userID string) (*model.LikeState, error)
}
