// Package model はドメインモデルを定義する。
package model

import (
	"math"
	"time"
)

// Mode はアイテムが属するコレクション（完了/予定/プロジェクト）を表す。
type Mode string

const (
	// ModeCompleted は完了済みアイテムのコレクション。
	ModeCompleted Mode = "completed"
	// ModePlanned は予定アイテムのコレクション。
	ModePlanned Mode = "planned"
	// ModeProjects はプロジェクトのコレクション。
	ModeProjects Mode = "projects"
)

// Modes は有効なモードの一覧。
var Modes = []Mode{ModeCompleted, ModePlanned, ModeProjects}

// ParseMode は文字列をModeに変換する。無効な値の場合はfalseを返す。
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeCompleted, ModePlanned, ModeProjects:
		return Mode(s), true
	}
	return "", false
}

// Category はアイテムの種別を表す。プロジェクトモードでは意味を持たない。
type Category string

const (
	CategoryMovie   Category = "Movie"
	CategorySeries  Category = "Series"
	CategoryBook    Category = "Book"
	CategoryAnime   Category = "Anime"
	CategoryGame    Category = "Game"
	CategoryIdea    Category = "Idea"
	CategoryYouTube Category = "YouTube"
)

// Categories は有効な種別の一覧。
var Categories = []Category{
	CategoryMovie, CategorySeries, CategoryBook, CategoryAnime,
	CategoryGame, CategoryIdea, CategoryYouTube,
}

// Valid は種別が定義済みの値かどうかを返す。
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Priority はアイテムの優先度を表す。
type Priority string

const (
	PriorityNormal    Priority = "Normal"
	PriorityImportant Priority = "Important"
	PriorityCritical  Priority = "Critical"
)

// Valid は優先度が定義済みの値かどうかを返す。
func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityImportant, PriorityCritical:
		return true
	}
	return false
}

// ProjectStatus はプロジェクトの進行状態を表す。
type ProjectStatus string

const (
	StatusPlanned    ProjectStatus = "Planned"
	StatusInProgress ProjectStatus = "InProgress"
	StatusPaused     ProjectStatus = "Paused"
	StatusDone       ProjectStatus = "Done"
)

// Valid はステータスが定義済みの値かどうかを返す。
func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusPaused, StatusDone:
		return true
	}
	return false
}

// 評価の範囲
const (
	MinRating = 1
	MaxRating = 10
)

// Item は完了/予定/プロジェクトの各コレクションで共通の形を持つアイテム。
// モードによって意味を持つフィールドが異なる。
type Item struct {
	ID          string
	OwnerID     string
	Title       string
	Category    Category
	Priority    Priority
	Rating      *int // 完了済みアイテムのみ
	Comment     string
	CreatedAt   time.Time
	CompletedAt *time.Time
	IsArchived  bool
	IsHidden    bool
	IsPinned    bool

	// プロジェクトモードのみ
	Status   ProjectStatus
	Progress int
	Deadline *time.Time

	// 他ユーザーの公開アイテムを閲覧する場合のみ設定される読み取り専用の集計値
	LikesCount int
	LikedByMe  bool
}

// ItemDraft はアイテム追加時の入力。
type ItemDraft struct {
	Title     string
	Category  Category
	Priority  Priority
	Rating    *int
	Comment   string
	CreatedAt *time.Time
	Status    ProjectStatus
	Progress  *int
	Deadline  *time.Time
}

// ItemPatch はアイテム更新時の部分更新入力。
// nilのフィールドは変更しない。
type ItemPatch struct {
	Title         *string
	Category      *Category
	Priority      *Priority
	Rating        *int
	Comment       *string
	Status        *ProjectStatus
	Progress      *int
	Deadline      *time.Time
	ClearDeadline bool
}

// IsEmpty は変更対象のフィールドが一つもない場合にtrueを返す。
func (p ItemPatch) IsEmpty() bool {
	return p.Title == nil && p.Category == nil && p.Priority == nil &&
		p.Rating == nil && p.Comment == nil && p.Status == nil &&
		p.Progress == nil && p.Deadline == nil && !p.ClearDeadline
}

// ItemFlag はアイテムの真偽値フラグ種別。
type ItemFlag string

const (
	FlagArchived ItemFlag = "is_archived"
	FlagHidden   ItemFlag = "is_hidden"
	FlagPinned   ItemFlag = "is_pinned"
)

// ClampProgress は進捗を0〜100の範囲に収める。
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ProgressFromSteps はステップ数から進捗率を算出する。
// ステップが存在しない場合は0を返す。
func ProgressFromSteps(total, done int) int {
	if total <= 0 {
		return 0
	}
	return ClampProgress(int(math.Round(float64(done) / float64(total) * 100)))
}
