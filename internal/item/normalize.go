package item

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ratioglobus/my-world/internal/model"
)

// droppedKeys は書き込み入力から黙って取り除くキー。
// 読み取り専用の集計値、サーバー管理の列、旧クライアントが送ってくるフィールド。
var droppedKeys = map[string]bool{
	"id":            true,
	"user_id":       true,
	"owner_id":      true,
	"completed_at":  true,
	"likes_count":   true,
	"liked_by_me":   true,
	"likesCount":    true,
	"likedByMe":     true,
	"is_archived":   true,
	"is_hidden":     true,
	"is_pinned":     true,
	"isArchiveView": true,
	"statusProject": true,
}

// keyAliases は入力キーの別名を正規名に揃える。
var keyAliases = map[string]string{
	"type":       "category",
	"createdAt":  "created_at",
	"created_at": "created_at",
}

// canonicalKeys はモードごとの受け付け可能なキー。
func canonicalKeys(mode model.Mode) map[string]bool {
	keys := map[string]bool{
		"title":      true,
		"category":   true,
		"priority":   true,
		"comment":    true,
		"created_at": true,
		// 完了以外のratingは検証で拒否する
		"rating": true,
	}
	if mode == model.ModeProjects {
		keys["status"] = true
		keys["progress"] = true
		keys["deadline"] = true
	}
	return keys
}

// canonicalize は生の入力を正規キーのマップに変換する。
// 旧フィールドは取り除き、未知のキーはVALIDATION_ERRORとする。
func canonicalize(mode model.Mode, raw map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	allowed := canonicalKeys(mode)
	out := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if droppedKeys[k] {
			continue
		}
		// 完了/予定アイテムのstatusは旧スキーマの名残
		if k == "status" && mode != model.ModeProjects {
			continue
		}
		if alias, ok := keyAliases[k]; ok {
			k = alias
		}
		if !allowed[k] {
			return nil, model.NewValidationError(k, "未知のフィールドです")
		}
		out[k] = v
	}
	return out, nil
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

func decodeString(field string, v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", model.NewValidationError(field, "文字列で指定してください")
	}
	return s, nil
}

func decodeInt(field string, v json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, model.NewValidationError(field, "数値で指定してください")
	}
	if f != float64(int(f)) {
		return 0, model.NewValidationError(field, "整数で指定してください")
	}
	return int(f), nil
}

// decodeTime はRFC3339または日付のみ（YYYY-MM-DD）の文字列を受け付ける。
func decodeTime(field string, v json.RawMessage) (time.Time, error) {
	s, err := decodeString(field, v)
	if err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, model.NewValidationError(field, "日時の形式が不正です")
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", model.NewValidationError("title", "タイトルは必須です")
	}
	return title, nil
}

func validateRating(mode model.Mode, rating int) error {
	if mode != model.ModeCompleted {
		return model.NewValidationError("rating", "評価は完了済みアイテムにのみ設定できます")
	}
	if rating < model.MinRating || rating > model.MaxRating {
		return model.NewValidationError("rating", "評価は1〜10で指定してください")
	}
	return nil
}

func validateCategory(mode model.Mode, c model.Category) error {
	if c == "" && mode == model.ModeProjects {
		return nil
	}
	if !c.Valid() {
		return model.NewValidationError("category", "未知の種別です: "+string(c))
	}
	return nil
}

// DecodeDraft はJSONオブジェクトを検証済みのItemDraftに変換する。
func DecodeDraft(mode model.Mode, raw map[string]json.RawMessage) (model.ItemDraft, error) {
	var d model.ItemDraft
	fields, err := canonicalize(mode, raw)
	if err != nil {
		return d, err
	}

	for k, v := range fields {
		if isNull(v) {
			continue
		}
		switch k {
		case "title":
			d.Title, err = decodeString(k, v)
		case "category":
			var s string
			s, err = decodeString(k, v)
			d.Category = model.Category(s)
		case "priority":
			var s string
			s, err = decodeString(k, v)
			d.Priority = model.Priority(s)
		case "comment":
			d.Comment, err = decodeString(k, v)
		case "created_at":
			var t time.Time
			t, err = decodeTime(k, v)
			d.CreatedAt = &t
		case "rating":
			var r int
			r, err = decodeInt(k, v)
			d.Rating = &r
		case "status":
			var s string
			s, err = decodeString(k, v)
			d.Status = model.ProjectStatus(s)
		case "progress":
			var p int
			p, err = decodeInt(k, v)
			d.Progress = &p
		case "deadline":
			var t time.Time
			t, err = decodeTime(k, v)
			d.Deadline = &t
		}
		if err != nil {
			return d, err
		}
	}
	return d, nil
}

// DecodePatch はJSONオブジェクトを検証済みのItemPatchに変換する。
// 存在しないキーは変更しない。deadlineのnullは期限の解除を表す。
func DecodePatch(mode model.Mode, raw map[string]json.RawMessage) (model.ItemPatch, error) {
	var p model.ItemPatch
	fields, err := canonicalize(mode, raw)
	if err != nil {
		return p, err
	}
	// 作成日時は追加時にのみ指定できる
	delete(fields, "created_at")

	for k, v := range fields {
		if isNull(v) {
			if k == "deadline" {
				p.ClearDeadline = true
			}
			continue
		}
		switch k {
		case "title":
			var s string
			s, err = decodeString(k, v)
			p.Title = &s
		case "category":
			var s string
			s, err = decodeString(k, v)
			c := model.Category(s)
			p.Category = &c
		case "priority":
			var s string
			s, err = decodeString(k, v)
			pr := model.Priority(s)
			p.Priority = &pr
		case "comment":
			var s string
			s, err = decodeString(k, v)
			p.Comment = &s
		case "rating":
			var r int
			r, err = decodeInt(k, v)
			p.Rating = &r
		case "status":
			var s string
			s, err = decodeString(k, v)
			st := model.ProjectStatus(s)
			p.Status = &st
		case "progress":
			var n int
			n, err = decodeInt(k, v)
			p.Progress = &n
		case "deadline":
			var t time.Time
			t, err = decodeTime(k, v)
			p.Deadline = &t
		}
		if err != nil {
			return p, err
		}
	}
	return p, nil
}

// validateDraft は追加入力を検証し、既定値を補う。
func validateDraft(mode model.Mode, d model.ItemDraft) (model.ItemDraft, error) {
	title, err := validateTitle(d.Title)
	if err != nil {
		return d, err
	}
	d.Title = title

	if err := validateCategory(mode, d.Category); err != nil {
		return d, err
	}
	if d.Priority == "" {
		d.Priority = model.PriorityNormal
	}
	if !d.Priority.Valid() {
		return d, model.NewValidationError("priority", "未知の優先度です: "+string(d.Priority))
	}

	switch mode {
	case model.ModeCompleted:
		if d.Rating == nil {
			return d, model.NewValidationError("rating", "評価は必須です")
		}
	}
	if d.Rating != nil {
		if err := validateRating(mode, *d.Rating); err != nil {
			return d, err
		}
	}

	if mode == model.ModeProjects {
		if d.Status == "" {
			d.Status = model.StatusPlanned
		}
		if !d.Status.Valid() {
			return d, model.NewValidationError("status", "未知のステータスです: "+string(d.Status))
		}
		if d.Progress != nil {
			p := model.ClampProgress(*d.Progress)
			d.Progress = &p
		}
	} else if d.Status != "" || d.Progress != nil || d.Deadline != nil {
		return d, model.NewValidationError("status", "プロジェクト以外には設定できません")
	}
	return d, nil
}

// validatePatch は更新入力を検証する。
func validatePatch(mode model.Mode, p model.ItemPatch) (model.ItemPatch, error) {
	if p.Title != nil {
		title, err := validateTitle(*p.Title)
		if err != nil {
			return p, err
		}
		p.Title = &title
	}
	if p.Category != nil {
		if err := validateCategory(mode, *p.Category); err != nil {
			return p, err
		}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return p, model.NewValidationError("priority", "未知の優先度です: "+string(*p.Priority))
	}
	if p.Rating != nil {
		if err := validateRating(mode, *p.Rating); err != nil {
			return p, err
		}
	}
	if mode == model.ModeProjects {
		if p.Status != nil && !p.Status.Valid() {
			return p, model.NewValidationError("status", "未知のステータスです: "+string(*p.Status))
		}
		if p.Progress != nil {
			n := model.ClampProgress(*p.Progress)
			p.Progress = &n
		}
	} else if p.Status != nil || p.Progress != nil || p.Deadline != nil || p.ClearDeadline {
		return p, model.NewValidationError("status", "プロジェクト以外には設定できません")
	}
	return p, nil
}

// NormalizeItem はストアから読み込んだ行をモードに応じた形に整える。
// モードで意味を持たないフィールドは空にし、未知の列挙値は既定値に置き換える。
func NormalizeItem(mode model.Mode, it model.Item) model.Item {
	if !it.Priority.Valid() {
		it.Priority = model.PriorityNormal
	}
	if mode != model.ModeCompleted {
		it.Rating = nil
		it.CompletedAt = nil
	} else if it.Rating != nil && (*it.Rating < model.MinRating || *it.Rating > model.MaxRating) {
		it.Rating = nil
	}
	if mode != model.ModeProjects {
		it.Status = ""
		it.Progress = 0
		it.Deadline = nil
	} else {
		if !it.Status.Valid() {
			it.Status = model.StatusPlanned
		}
		it.Progress = model.ClampProgress(it.Progress)
	}
	return it
}

// NormalizeItems は行の一覧をNormalizeItemで整える。
func NormalizeItems(mode model.Mode, items []model.Item) []model.Item {
	out := make([]model.Item, len(items))
	for i, it := range items {
		out[i] = NormalizeItem(mode, it)
	}
	return out
}
