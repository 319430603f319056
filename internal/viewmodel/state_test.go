package viewmodel

import (
	"net/url"
	"testing"

	"github.com/ratioglobus/my-world/internal/model"
)

// TestReduce_FilterChangeResetsPage はフィルタ変更でページが1に戻ることをテストする。
func TestReduce_FilterChangeResetsPage(t *testing.T) {
	actions := []struct {
		name string
		act  Action
	}{
		{"検索", SetQuery{Query: "dune"}},
		{"種別", SetCategory{Category: string(model.CategoryMovie)}},
		{"アイデア切替", ToggleIdeas{}},
		{"優先度", SetPriority{Priority: string(model.PriorityImportant)}},
		{"ステータス", SetStatus{Status: string(model.StatusPaused)}},
		{"非表示のみ", SetHiddenOnly{HiddenOnly: true}},
	}
	for _, tt := range actions {
		t.Run(tt.name, func(t *testing.T) {
			s := Reduce(NewState(model.ModeCompleted), SetPage{Page: 4})
			s = Reduce(s, tt.act)
			if s.Page != 1 {
				t.Errorf("Page = %d, want 1", s.Page)
			}
		})
	}
}

// TestReduce_SameFilterKeepsPage は同じ値のフィルタ設定ではページが変わらないことをテストする。
func TestReduce_SameFilterKeepsPage(t *testing.T) {
	s := Reduce(NewState(model.ModePlanned), SetQuery{Query: "x"})
	s = Reduce(s, SetPage{Page: 3})
	s = Reduce(s, SetQuery{Query: "x"})
	if s.Page != 3 {
		t.Errorf("Page = %d, want 3", s.Page)
	}
}

// TestReduce_PageChangeKeepsFilters はページ変更でフィルタが変わらないことをテストする。
func TestReduce_PageChangeKeepsFilters(t *testing.T) {
	s := NewState(model.ModeCompleted)
	s = Reduce(s, SetQuery{Query: "du"})
	s = Reduce(s, SetPriority{Priority: string(model.PriorityCritical)})
	before := s.Filters

	s = Reduce(s, SetPage{Page: 2})
	if s.Filters != before {
		t.Errorf("Filters changed: %+v -> %+v", before, s.Filters)
	}
	if s.Page != 2 {
		t.Errorf("Page = %d, want 2", s.Page)
	}

	s = Reduce(s, SetPage{Page: -1})
	if s.Page != 1 {
		t.Errorf("negative page: Page = %d, want 1", s.Page)
	}
}

// TestReduce_ToggleIdeas はアイデアのみ表示が切り替わることをテストする。
func TestReduce_ToggleIdeas(t *testing.T) {
	s := Reduce(NewState(model.ModePlanned), ToggleIdeas{})
	if s.Filters.Category != string(model.CategoryIdea) {
		t.Errorf("Category = %q, want Idea", s.Filters.Category)
	}
	s = Reduce(s, ToggleIdeas{})
	if s.Filters.Category != FilterAll {
		t.Errorf("Category = %q, want all", s.Filters.Category)
	}
}

// TestReduce_SetMode はモード切替でフィルタとモーダルが初期化され、検索クエリは保持されることをテストする。
func TestReduce_SetMode(t *testing.T) {
	s := NewState(model.ModeCompleted)
	s = Reduce(s, SetQuery{Query: "dune"})
	s = Reduce(s, SetCategory{Category: string(model.CategoryBook)})
	s = Reduce(s, View{ID: "item-1"})
	s = Reduce(s, SetPage{Page: 2})

	s = Reduce(s, SetMode{Mode: model.ModePlanned})

	if s.Mode != model.ModePlanned {
		t.Errorf("Mode = %q", s.Mode)
	}
	if s.Page != 1 || s.Filters.Category != FilterAll || s.ViewingID != "" {
		t.Errorf("state not reset: %+v", s)
	}
	if s.Filters.Query != "dune" {
		t.Errorf("Query = %q, want dune", s.Filters.Query)
	}

	same := Reduce(s, SetMode{Mode: model.ModePlanned})
	if same != s {
		t.Error("switching to the same mode should not change state")
	}
}

// TestReduce_Modals はモーダル状態の設定と解除をテストする。
func TestReduce_Modals(t *testing.T) {
	s := NewState(model.ModePlanned)
	s = Reduce(s, StartEdit{ID: "a"})
	s = Reduce(s, AskDelete{ID: "b"})
	s = Reduce(s, AskRating{ID: "c"})
	s = Reduce(s, SetPage{Page: 5})
	if s.EditingID != "a" || s.ConfirmDeleteID != "b" || s.RatingItemID != "c" {
		t.Errorf("modal ids not set: %+v", s)
	}
	s = Reduce(s, CloseModals{})
	if s.EditingID != "" || s.ConfirmDeleteID != "" || s.RatingItemID != "" || s.ViewingID != "" {
		t.Errorf("modal ids not cleared: %+v", s)
	}
	if s.Page != 5 {
		t.Errorf("Page = %d, want 5", s.Page)
	}
}

// TestStateFromQuery はクエリパラメータからフィルタとページが組み立てられることをテストする。
func TestStateFromQuery(t *testing.T) {
	q := url.Values{}
	q.Set("q", "Dune")
	q.Set("category", "Book")
	q.Set("priority", "all")
	q.Set("hidden_only", "true")
	q.Set("page", "3")

	s := StateFromQuery(model.ModeCompleted, q)

	if s.Filters.Query != "Dune" || s.Filters.Category != "Book" || s.Filters.Priority != FilterAll || !s.Filters.HiddenOnly {
		t.Errorf("Filters = %+v", s.Filters)
	}
	if s.Filters.Status != FilterAll {
		t.Errorf("Status = %q, want all", s.Filters.Status)
	}
	if s.Page != 3 {
		t.Errorf("Page = %d, want 3", s.Page)
	}
}
