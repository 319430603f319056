package model

import "time"

// ChangeOp は変更通知の操作種別。
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
	// ChangeResync は配信の途中で通知が失われたことを表す。
	// OwnerIDが空の場合は全ユーザーが対象。受信側は対象のキャッシュを全て破棄する。
	ChangeResync ChangeOp = "RESYNC"
)

// ChangeEvent はテーブルの行変更通知を表す。
// 受信側はキャッシュ無効化のシグナルとして扱い、全件を再取得する。
type ChangeEvent struct {
	Table   string    `json:"table"`
	OwnerID string    `json:"owner_id"`
	Op      ChangeOp  `json:"op"`
	RowID   string    `json:"row_id,omitempty"`
	At      time.Time `json:"at"`
}
