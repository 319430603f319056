// Package model はドメインモデルを定義する。
package model

import "time"

// FeedEntry はインポート元フィードから取得した未保存のエントリ。
// インポート時に予定アイテムへ変換される。
type FeedEntry struct {
	Title       string
	Link        string
	PublishedAt *time.Time
}
