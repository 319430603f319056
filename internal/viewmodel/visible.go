// Package viewmodel はアイテム一覧の表示モデルを提供する。
// メモリ上のコレクションからフィルタ・ソート・ページネーション済みの表示対象を導出する。
// ネットワークアクセスは行わない。
package viewmodel

import (
	"sort"
	"strings"

	"github.com/ratioglobus/my-world/internal/model"
)

// DefaultPageSize は1ページあたりの既定表示件数。
const DefaultPageSize = 16

// FilterAll は絞り込みを行わないことを表すフィルタ値。
const FilterAll = "all"

// Filters は一覧表示の絞り込み条件。
type Filters struct {
	Query      string
	Category   string // "all" または model.Category
	Priority   string // "all" または model.Priority
	Status     string // "all" または model.ProjectStatus（プロジェクトモードのみ）
	HiddenOnly bool
}

// DefaultFilters は全件表示の絞り込み条件を返す。
func DefaultFilters() Filters {
	return Filters{Category: FilterAll, Priority: FilterAll, Status: FilterAll}
}

// Validate はフィルタ値が定義済みの値かどうかを検証する。
// 空文字列は "all" と同じ扱いとする。
func (f Filters) Validate() error {
	if !isAll(f.Category) && !model.Category(f.Category).Valid() {
		return model.NewInvalidFilterError(f.Category)
	}
	if !isAll(f.Priority) && !model.Priority(f.Priority).Valid() {
		return model.NewInvalidFilterError(f.Priority)
	}
	if !isAll(f.Status) && !model.ProjectStatus(f.Status).Valid() {
		return model.NewInvalidFilterError(f.Status)
	}
	return nil
}

// Match はアーカイブ以外の条件でアイテムが表示対象かどうかを返す。
func (f Filters) Match(it model.Item) bool {
	if f.HiddenOnly && !it.IsHidden {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(it.Title), strings.ToLower(f.Query)) {
		return false
	}
	if !isAll(f.Category) && string(it.Category) != f.Category {
		return false
	}
	if !isAll(f.Priority) && string(it.Priority) != f.Priority {
		return false
	}
	if !isAll(f.Status) && string(it.Status) != f.Status {
		return false
	}
	return true
}

func isAll(v string) bool {
	return v == "" || v == FilterAll
}

// Result はComputeVisibleの戻り値。
type Result struct {
	Items        []model.Item
	TotalPages   int
	Page         int
	TotalMatched int
	// CollectionEmpty は元のコレクション（アーカイブ除外後）が空であることを表す。
	CollectionEmpty bool
	// FilteredEmpty は元のコレクションは空でないが、絞り込みで0件になったことを表す。
	FilteredEmpty bool
}

// ComputeVisible はコレクションから表示対象のページを導出する。
// アーカイブ済みアイテムは常に除外する。ピン留めを先頭に、各グループ内は作成日時の降順に並べる。
// 同じ作成日時のアイテムは元の相対順序を保つ。入力スライスは変更しない。
func ComputeVisible(collection []model.Item, f Filters, page, pageSize int) Result {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	active := 0
	matched := make([]model.Item, 0, len(collection))
	for _, it := range collection {
		if it.IsArchived {
			continue
		}
		active++
		if f.Match(it) {
			matched = append(matched, it)
		}
	}

	SortItems(matched)

	totalPages := len(matched) / pageSize
	if len(matched)%pageSize != 0 {
		totalPages++
	}
	res := Result{
		Page:            page,
		TotalMatched:    len(matched),
		TotalPages:      totalPages,
		CollectionEmpty: active == 0,
		FilteredEmpty:   active > 0 && len(matched) == 0,
	}

	// ページ番号は掛け算の前に範囲を確かめる（巨大な値での桁あふれを防ぐ）
	if page > totalPages {
		res.Items = []model.Item{}
		return res
	}
	start := (page - 1) * pageSize
	end := len(matched)
	if len(matched)-start > pageSize {
		end = start + pageSize
	}
	res.Items = matched[start:end]
	return res
}

// SortItems はピン留めを先頭に、作成日時の降順で安定ソートする。
func SortItems(items []model.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsPinned != items[j].IsPinned {
			return items[i].IsPinned
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

// EmptyMessage はコレクションが空の場合にモードごとに表示するメッセージを返す。
func EmptyMessage(mode model.Mode) string {
	switch mode {
	case model.ModePlanned:
		return "予定リストは空です。気になる作品を追加しましょう。"
	case model.ModeProjects:
		return "プロジェクトはまだありません。最初のプロジェクトを作成しましょう。"
	default:
		return "完了リストは空です。最初のアイテムを追加しましょう。"
	}
}

// FilteredEmptyMessage は絞り込み結果が0件の場合のメッセージを返す。
func FilteredEmptyMessage() string {
	return "条件に一致するアイテムはありません。"
}
