package viewmodel

import (
	"net/url"
	"strconv"

	"github.com/ratioglobus/my-world/internal/model"
)

// State は一覧画面の状態を表す。
// 状態の変更はReduceを通してのみ行う。
type State struct {
	Mode            model.Mode
	Filters         Filters
	Page            int
	EditingID       string
	ViewingID       string
	ConfirmDeleteID string
	RatingItemID    string
}

// NewState は指定モードの初期状態を返す。
func NewState(mode model.Mode) State {
	return State{Mode: mode, Filters: DefaultFilters(), Page: 1}
}

// Action は状態遷移を表す。
type Action interface {
	isAction()
}

type (
	// SetQuery は検索クエリを変更する。
	SetQuery struct{ Query string }
	// SetCategory は種別フィルタを変更する。
	SetCategory struct{ Category string }
	// ToggleIdeas は種別フィルタを「アイデアのみ」と全件で切り替える。
	ToggleIdeas struct{}
	// SetPriority は優先度フィルタを変更する。
	SetPriority struct{ Priority string }
	// SetStatus はステータスフィルタを変更する。
	SetStatus struct{ Status string }
	// SetHiddenOnly は非表示アイテムのみ表示するかを変更する。
	SetHiddenOnly struct{ HiddenOnly bool }
	// SetMode は表示するコレクションを切り替える。
	SetMode struct{ Mode model.Mode }
	// SetPage は表示ページを変更する。
	SetPage struct{ Page int }
	// StartEdit は編集対象を設定する。
	StartEdit struct{ ID string }
	// View は詳細表示対象を設定する。
	View struct{ ID string }
	// AskDelete は削除確認の対象を設定する。
	AskDelete struct{ ID string }
	// AskRating は完了時の評価入力対象を設定する。
	AskRating struct{ ID string }
	// CloseModals は全てのモーダル状態を解除する。
	CloseModals struct{}
)

func (SetQuery) isAction()      {}
func (SetCategory) isAction()   {}
func (ToggleIdeas) isAction()   {}
func (SetPriority) isAction()   {}
func (SetStatus) isAction()     {}
func (SetHiddenOnly) isAction() {}
func (SetMode) isAction()       {}
func (SetPage) isAction()       {}
func (StartEdit) isAction()     {}
func (View) isAction()          {}
func (AskDelete) isAction()     {}
func (AskRating) isAction()     {}
func (CloseModals) isAction()   {}

// Reduce は状態にアクションを適用した新しい状態を返す。
// フィルタが実際に変わった場合はページを1に戻す。ページ変更のみではフィルタは変わらない。
func Reduce(s State, a Action) State {
	next := s
	switch act := a.(type) {
	case SetQuery:
		next.Filters.Query = act.Query
	case SetCategory:
		next.Filters.Category = normalizeAll(act.Category)
	case ToggleIdeas:
		if next.Filters.Category == string(model.CategoryIdea) {
			next.Filters.Category = FilterAll
		} else {
			next.Filters.Category = string(model.CategoryIdea)
		}
	case SetPriority:
		next.Filters.Priority = normalizeAll(act.Priority)
	case SetStatus:
		next.Filters.Status = normalizeAll(act.Status)
	case SetHiddenOnly:
		next.Filters.HiddenOnly = act.HiddenOnly
	case SetMode:
		if act.Mode != s.Mode {
			next = NewState(act.Mode)
			next.Filters.Query = s.Filters.Query
		}
		return next
	case SetPage:
		if act.Page < 1 {
			next.Page = 1
		} else {
			next.Page = act.Page
		}
		return next
	case StartEdit:
		next.EditingID = act.ID
		return next
	case View:
		next.ViewingID = act.ID
		return next
	case AskDelete:
		next.ConfirmDeleteID = act.ID
		return next
	case AskRating:
		next.RatingItemID = act.ID
		return next
	case CloseModals:
		next.EditingID, next.ViewingID, next.ConfirmDeleteID, next.RatingItemID = "", "", "", ""
		return next
	default:
		return s
	}

	if next.Filters != s.Filters {
		next.Page = 1
	}
	return next
}

func normalizeAll(v string) string {
	if v == "" {
		return FilterAll
	}
	return v
}

// StateFromQuery はHTTPクエリパラメータから状態を組み立てる。
// フィルタを先に適用し、最後にページを適用する。
func StateFromQuery(mode model.Mode, q url.Values) State {
	s := NewState(mode)
	s = Reduce(s, SetQuery{Query: q.Get("q")})
	s = Reduce(s, SetCategory{Category: q.Get("category")})
	s = Reduce(s, SetPriority{Priority: q.Get("priority")})
	s = Reduce(s, SetStatus{Status: q.Get("status")})
	if v, err := strconv.ParseBool(q.Get("hidden_only")); err == nil {
		s = Reduce(s, SetHiddenOnly{HiddenOnly: v})
	}
	if p, err := strconv.Atoi(q.Get("page")); err == nil {
		s = Reduce(s, SetPage{Page: p})
	}
	return s
}
