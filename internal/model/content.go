package model

import "time"

// Step はプロジェクトの子ステップを表す。
type Step struct {
	ID        string
	ProjectID string
	OwnerID   string
	Title     string
	Completed bool
	CreatedAt time.Time
}

// Discovery はアイテムとは独立したメモ（気づき）を表す。
// タグは自由入力の文字列集合。
type Discovery struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Tags        []string
	CreatedAt   time.Time
}

// Quote は名言ウィジェットに表示する引用。
type Quote struct {
	Text   string `yaml:"text" json:"text"`
	Author string `yaml:"author" json:"author"`
}
