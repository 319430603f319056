// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Profile はユーザーごとに1件存在する公開プロフィール。
type Profile struct {
	UserID    string
	Nickname  string
	Email     string
	IsPublic  bool
	CreatedAt time.Time
}

// Follow はフォロー関係（follower -> following）を表す。存在のみが状態を持つ。
type Follow struct {
	FollowerID  string
	FollowingID string
	CreatedAt   time.Time
}

// FollowedProfile はフォロー一覧に表示するプロフィール情報。
type FollowedProfile struct {
	UserID   string
	Nickname string
	Email    string
}

// Like はアイテムへのいいねを表す。
type Like struct {
	UserID    string
	ItemID    string
	Mode      Mode
	CreatedAt time.Time
}

// LikeState はいいね操作後のアイテムの集計状態。
type LikeState struct {
	ItemID     string
	LikesCount int
	LikedByMe  bool
}
