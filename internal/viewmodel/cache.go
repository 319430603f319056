package viewmodel

import (
	"sync"

	"github.com/ratioglobus/my-world/internal/model"
)

type cacheKey struct {
	ownerID string
	mode    model.Mode
}

type cacheEntry struct {
	items  []model.Item
	loaded bool
}

// Cache はユーザーごと・モードごとのアイテムコレクションのローカルコピーを保持する。
// 変更はリモートストアでの成功確認後にのみ適用する。
// 変更通知を受けたらInvalidateで破棄し、次回の読み込みで全件を取り直す（最後の全件取得が優先）。
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
	gens    map[cacheKey]uint64
	epoch   uint64 // InvalidateAllのたびに進む
}

// NewCache はCacheの新しいインスタンスを生成する。
func NewCache() *Cache {
	return &Cache{
		entries: make(map[cacheKey]*cacheEntry),
		gens:    make(map[cacheKey]uint64),
	}
}

// Get はキャッシュ済みのコレクションのコピーを返す。未取得の場合はfalseを返す。
func (c *Cache) Get(ownerID string, mode model.Mode) ([]model.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey{ownerID, mode}]
	if !ok || !e.loaded {
		return nil, false
	}
	out := make([]model.Item, len(e.items))
	copy(out, e.items)
	return out, true
}

// Generation は現在の世代番号を返す。
// 全件取得の開始前に取得し、ReplaceAllに渡す。
func (c *Cache) Generation(ownerID string, mode model.Mode) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation(cacheKey{ownerID, mode})
}

func (c *Cache) generation(key cacheKey) uint64 {
	return c.epoch + c.gens[key]
}

// ReplaceAll は全件取得の結果でコレクションを置き換える。
// 取得中にInvalidateされていた場合（世代番号が異なる場合）は古い結果として破棄し、falseを返す。
func (c *Cache) ReplaceAll(ownerID string, mode model.Mode, items []model.Item, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{ownerID, mode}
	if c.generation(key) != gen {
		return false
	}
	cp := make([]model.Item, len(items))
	copy(cp, items)
	c.entries[key] = &cacheEntry{items: cp, loaded: true}
	return true
}

// Invalidate は指定コレクションを破棄し、世代番号を進める。
func (c *Cache) Invalidate(ownerID string, mode model.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{ownerID, mode}
	delete(c.entries, key)
	c.gens[key]++
}

// InvalidateOwner はユーザーの全モードのコレクションを破棄する。
func (c *Cache) InvalidateOwner(ownerID string) {
	for _, m := range model.Modes {
		c.Invalidate(ownerID, m)
	}
}

// InvalidateAll は全ユーザーのコレクションを破棄する。
// 変更通知を取りこぼした後の再同期に使う。取得中の全件取得の結果も破棄される。
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[cacheKey]*cacheEntry)
	c.epoch++
}

// Prepend は追加されたアイテムを先頭に加える。
func (c *Cache) Prepend(ownerID string, mode model.Mode, it model.Item) {
	c.update(ownerID, mode, func(items []model.Item) []model.Item {
		return append([]model.Item{it}, items...)
	})
}

// Merge は更新後の行を既存アイテムに反映する。
// 更新結果に含まれない集計値（いいね数など）は既存の値を保持する。
func (c *Cache) Merge(ownerID string, mode model.Mode, it model.Item) {
	c.update(ownerID, mode, func(items []model.Item) []model.Item {
		for i := range items {
			if items[i].ID == it.ID {
				merged := it
				merged.LikesCount = items[i].LikesCount
				merged.LikedByMe = items[i].LikedByMe
				items[i] = merged
			}
		}
		return items
	})
}

// Remove はアイテムをコレクションから取り除く。
func (c *Cache) Remove(ownerID string, mode model.Mode, id string) {
	c.update(ownerID, mode, func(items []model.Item) []model.Item {
		out := items[:0]
		for _, it := range items {
			if it.ID != id {
				out = append(out, it)
			}
		}
		return out
	})
}

// PatchFlag はアイテムのフラグを書き換える。
func (c *Cache) PatchFlag(ownerID string, mode model.Mode, id string, flag model.ItemFlag, value bool) {
	c.update(ownerID, mode, func(items []model.Item) []model.Item {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			switch flag {
			case model.FlagArchived:
				items[i].IsArchived = value
			case model.FlagHidden:
				items[i].IsHidden = value
			case model.FlagPinned:
				items[i].IsPinned = value
			}
		}
		return items
	})
}

// Move は予定アイテムを取り除き、完了アイテムを先頭に加える。
func (c *Cache) Move(ownerID, plannedID string, completed model.Item) {
	c.Remove(ownerID, model.ModePlanned, plannedID)
	c.Prepend(ownerID, model.ModeCompleted, completed)
}

// update は取得済みのコレクションにのみ変更を適用する。
// 未取得の場合は次回の全件取得に任せる。
func (c *Cache) update(ownerID string, mode model.Mode, fn func([]model.Item) []model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey{ownerID, mode}]
	if !ok || !e.loaded {
		return
	}
	e.items = fn(e.items)
}

// Visible はキャッシュ済みのコレクションに状態のフィルタとページを適用する。
// 未取得の場合はfalseを返す。
func (c *Cache) Visible(ownerID string, s State, pageSize int) (Result, bool) {
	items, ok := c.Get(ownerID, s.Mode)
	if !ok {
		return Result{}, false
	}
	return ComputeVisible(items, s.Filters, s.Page, pageSize), true
}
