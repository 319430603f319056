// Package item は完了/予定/プロジェクトの各コレクションへの変更操作を提供する。
// 全ての書き込みはこのパッケージを経由し、入力の正規化と検証を行ってからストアに渡す。
package item

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ratioglobus/my-world/internal/metrics"
	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/realtime"
	"github.com/ratioglobus/my-world/internal/repository"
	"github.com/ratioglobus/my-world/internal/viewmodel"
)

// 操作名（メトリクスのopラベル）
const (
	opAdd      = "add"
	opUpdate   = "update"
	opDelete   = "delete"
	opArchive  = "archive"
	opRestore  = "restore"
	opHidden   = "hidden"
	opPin      = "pin"
	opComplete = "complete"
	opProgress = "progress"
)

// Service はアイテムの取得と変更を提供する。
// 変更はストアでの成功確認後にキャッシュへ反映し、変更通知を発行する。
type Service struct {
	repo      repository.ItemRepository
	cache     *viewmodel.Cache
	publisher realtime.Publisher
	metrics   metrics.MetricsCollector

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// publisherとmcはnilでもよい。
func NewService(
	repo repository.ItemRepository,
	cache *viewmodel.Cache,
	publisher realtime.Publisher,
	mc metrics.MetricsCollector,
) *Service {
	if cache == nil {
		cache = viewmodel.NewCache()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		metrics:   mc,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// List はコレクションの全件をcreated_at降順で返す。
// 所有者本人はアーカイブ済みを含む全件を、他ユーザーは非表示・アーカイブ済みを除いた公開分を取得する。
func (s *Service) List(ctx context.Context, viewerID, ownerID string, mode model.Mode) ([]model.Item, error) {
	if _, err := repository.ItemTable(mode); err != nil {
		return nil, model.NewInvalidModeError(string(mode))
	}

	if viewerID != ownerID {
		items, err := s.repo.ListPublic(ctx, mode, ownerID, viewerID)
		if err != nil {
			return nil, fmt.Errorf("公開アイテムの取得に失敗: %w", err)
		}
		return NormalizeItems(mode, items), nil
	}

	if items, ok := s.cache.Get(ownerID, mode); ok {
		return items, nil
	}
	return s.Refresh(ctx, ownerID, mode)
}

// Refresh はストアから全件を取り直してキャッシュを置き換える。
// 取得中に変更通知を受けていた場合、結果は返すがキャッシュには保存しない。
func (s *Service) Refresh(ctx context.Context, ownerID string, mode model.Mode) ([]model.Item, error) {
	gen := s.cache.Generation(ownerID, mode)
	items, err := s.repo.List(ctx, mode, ownerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗: %w", err)
	}
	items = NormalizeItems(mode, items)
	if !s.cache.ReplaceAll(ownerID, mode, items, gen) {
		slog.Debug("stale fetch discarded",
			slog.String("owner_id", ownerID),
			slog.String("mode", string(mode)),
		)
	}
	return items, nil
}

// ListArchived はアーカイブ済みアイテムを返す。
func (s *Service) ListArchived(ctx context.Context, ownerID string, mode model.Mode) ([]model.Item, error) {
	if _, err := repository.ItemTable(mode); err != nil {
		return nil, model.NewInvalidModeError(string(mode))
	}
	items, err := s.repo.ListArchived(ctx, mode, ownerID)
	if err != nil {
		return nil, fmt.Errorf("アーカイブ一覧の取得に失敗: %w", err)
	}
	return NormalizeItems(mode, items), nil
}

// Visible は所有者のコレクションにフィルタ・ソート・ページングを適用した表示用の1ページを返す。
func (s *Service) Visible(
	ctx context.Context,
	ownerID string,
	mode model.Mode,
	filters viewmodel.Filters,
	page, pageSize int,
) (viewmodel.Result, error) {
	if err := filters.Validate(); err != nil {
		return viewmodel.Result{}, err
	}
	st := viewmodel.State{Mode: mode, Filters: filters, Page: page}
	if res, ok := s.cache.Visible(ownerID, st, pageSize); ok {
		return res, nil
	}
	items, err := s.List(ctx, ownerID, ownerID, mode)
	if err != nil {
		return viewmodel.Result{}, err
	}
	return viewmodel.ComputeVisible(items, filters, page, pageSize), nil
}

// Get は所有者のアイテムを1件返す。見つからない場合はITEM_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, ownerID, id string, mode model.Mode) (*model.Item, error) {
	if _, err := repository.ItemTable(mode); err != nil {
		return nil, model.NewInvalidModeError(string(mode))
	}
	it, err := s.repo.FindByID(ctx, mode, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗: %w", err)
	}
	if it == nil {
		return nil, model.NewItemNotFoundError(id)
	}
	row := NormalizeItem(mode, *it)
	return &row, nil
}

// Add はアイテムを追加し、保存された行を返す。
// 作成日時が指定されていない場合は現在時刻を使用する。
func (s *Service) Add(ctx context.Context, ownerID string, draft model.ItemDraft, mode model.Mode) (*model.Item, error) {
	if _, err := repository.ItemTable(mode); err != nil {
		return nil, model.NewInvalidModeError(string(mode))
	}
	d, err := validateDraft(mode, draft)
	if err != nil {
		s.metrics.RecordMutation(opAdd, string(mode), "invalid")
		return nil, err
	}

	now := s.now()
	it := &model.Item{
		ID:        s.newID(),
		OwnerID:   ownerID,
		Title:     d.Title,
		Category:  d.Category,
		Priority:  d.Priority,
		Rating:    d.Rating,
		Comment:   d.Comment,
		CreatedAt: now,
		Status:    d.Status,
		Deadline:  d.Deadline,
	}
	if d.CreatedAt != nil {
		it.CreatedAt = *d.CreatedAt
	}
	if d.Progress != nil {
		it.Progress = *d.Progress
	}
	if mode == model.ModeCompleted {
		it.CompletedAt = &now
	}

	created, err := s.repo.Create(ctx, mode, it)
	if err != nil {
		s.metrics.RecordMutation(opAdd, string(mode), "error")
		return nil, fmt.Errorf("アイテムの追加に失敗: %w", err)
	}
	row := NormalizeItem(mode, *created)

	s.cache.Prepend(ownerID, mode, row)
	s.notify(ctx, mode, ownerID, model.ChangeInsert, row.ID)
	s.metrics.RecordMutation(opAdd, string(mode), "success")
	return &row, nil
}

// Update はアイテムを部分更新し、更新後の行を返す。
// 対象はIDと所有者の両方で絞り込む。
func (s *Service) Update(ctx context.Context, ownerID, id string, patch model.ItemPatch, mode model.Mode) (*model.Item, error) {
	if _, err := repository.ItemTable(mode); err != nil {
		return nil, model.NewInvalidModeError(string(mode))
	}
	p, err := validatePatch(mode, patch)
	if err != nil {
		s.metrics.RecordMutation(opUpdate, string(mode), "invalid")
		return nil, err
	}

	updated, err := s.repo.Update(ctx, mode, ownerID, id, p)
	if err != nil {
		s.metrics.RecordMutation(opUpdate, string(mode), "error")
		return nil, fmt.Errorf("アイテムの更新に失敗: %w", err)
	}
	if updated == nil {
		s.metrics.RecordMutation(opUpdate, string(mode), "not_found")
		return nil, model.NewItemNotFoundError(id)
	}
	row := NormalizeItem(mode, *updated)

	s.cache.Merge(ownerID, mode, row)
	s.notify(ctx, mode, ownerID, model.ChangeUpdate, id)
	s.metrics.RecordMutation(opUpdate, string(mode), "success")
	return &row, nil
}

// Delete はアイテムを削除する。
func (s *Service) Delete(ctx context.Context, ownerID, id string, mode model.Mode) error {
	if _, err := repository.ItemTable(mode); err != nil {
		return model.NewInvalidModeError(string(mode))
	}
	found, err := s.repo.Delete(ctx, mode, ownerID, id)
	if err != nil {
		s.metrics.RecordMutation(opDelete, string(mode), "error")
		return fmt.Errorf("アイテムの削除に失敗: %w", err)
	}
	if !found {
		s.metrics.RecordMutation(opDelete, string(mode), "not_found")
		return model.NewItemNotFoundError(id)
	}

	s.cache.Remove(ownerID, mode, id)
	s.notify(ctx, mode, ownerID, model.ChangeDelete, id)
	s.metrics.RecordMutation(opDelete, string(mode), "success")
	return nil
}

// Archive はアイテムをアーカイブする。既にアーカイブ済みでも成功する。
func (s *Service) Archive(ctx context.Context, ownerID, id string, mode model.Mode) error {
	return s.setFlag(ctx, opArchive, ownerID, id, mode, model.FlagArchived, true)
}

// Restore はアーカイブ済みアイテムを元に戻す。評価などの他のフィールドは変更しない。
func (s *Service) Restore(ctx context.Context, ownerID, id string, mode model.Mode) error {
	return s.setFlag(ctx, opRestore, ownerID, id, mode, model.FlagArchived, false)
}

// ToggleHidden はアイテムの非表示状態を設定する。
func (s *Service) ToggleHidden(ctx context.Context, ownerID, id string, hidden bool, mode model.Mode) error {
	return s.setFlag(ctx, opHidden, ownerID, id, mode, model.FlagHidden, hidden)
}

// TogglePin はアイテムのピン留め状態を設定する。
func (s *Service) TogglePin(ctx context.Context, ownerID, id string, pinned bool, mode model.Mode) error {
	return s.setFlag(ctx, opPin, ownerID, id, mode, model.FlagPinned, pinned)
}

func (s *Service) setFlag(
	ctx context.Context,
	op, ownerID, id string,
	mode model.Mode,
	flag model.ItemFlag,
	value bool,
) error {
	if _, err := repository.ItemTable(mode); err != nil {
		return model.NewInvalidModeError(string(mode))
	}
	found, err := s.repo.SetFlag(ctx, mode, ownerID, id, flag, value)
	if err != nil {
		s.metrics.RecordMutation(op, string(mode), "error")
		return fmt.Errorf("フラグ %s の更新に失敗: %w", flag, err)
	}
	if !found {
		s.metrics.RecordMutation(op, string(mode), "not_found")
		return model.NewItemNotFoundError(id)
	}

	s.cache.PatchFlag(ownerID, mode, id, flag, value)
	s.notify(ctx, mode, ownerID, model.ChangeUpdate, id)
	s.metrics.RecordMutation(op, string(mode), "success")
	return nil
}

// ApplyProgress はプロジェクトの進捗を保存し、更新後の行を返す。
func (s *Service) ApplyProgress(ctx context.Context, ownerID, projectID string, progress int) (*model.Item, error) {
	mode := model.ModeProjects
	updated, err := s.repo.UpdateProgress(ctx, ownerID, projectID, model.ClampProgress(progress))
	if err != nil {
		s.metrics.RecordMutation(opProgress, string(mode), "error")
		return nil, fmt.Errorf("進捗の更新に失敗: %w", err)
	}
	if updated == nil {
		s.metrics.RecordMutation(opProgress, string(mode), "not_found")
		return nil, model.NewItemNotFoundError(projectID)
	}
	row := NormalizeItem(mode, *updated)

	s.cache.Merge(ownerID, mode, row)
	s.notify(ctx, mode, ownerID, model.ChangeUpdate, projectID)
	s.metrics.RecordMutation(opProgress, string(mode), "success")
	return &row, nil
}

// MoveToCompleted は予定アイテムを評価付きで完了コレクションへ移動し、新しい完了アイテムを返す。
// 挿入と削除は同一トランザクションで行う。失敗時はどちらのコレクションも変更されない。
// ストアの失敗後に予定・完了のどちらにも行が見つからない場合はMOVED_ITEM_LOSTを返す。
func (s *Service) MoveToCompleted(ctx context.Context, ownerID, plannedID string, rating int) (*model.Item, error) {
	mode := string(model.ModePlanned)
	if err := validateRating(model.ModeCompleted, rating); err != nil {
		s.metrics.RecordMutation(opComplete, mode, "invalid")
		return nil, err
	}

	newID := s.newID()
	moved, err := s.repo.MoveToCompleted(ctx, ownerID, plannedID, newID, rating, s.now())
	if err != nil {
		moved, err = s.recoverMove(ctx, ownerID, plannedID, newID, err)
		if err != nil {
			return nil, err
		}
	}
	if moved == nil {
		s.metrics.RecordMutation(opComplete, mode, "not_found")
		return nil, model.NewItemNotFoundError(plannedID)
	}
	row := NormalizeItem(model.ModeCompleted, *moved)

	s.cache.Move(ownerID, plannedID, row)
	s.notify(ctx, model.ModePlanned, ownerID, model.ChangeDelete, plannedID)
	s.notify(ctx, model.ModeCompleted, ownerID, model.ChangeInsert, row.ID)
	s.metrics.RecordMutation(opComplete, mode, "success")
	return &row, nil
}

// recoverMove は移動失敗後に両コレクションを確認し、結果を確定する。
// コミット済みだった場合は完了側の行を返す。
func (s *Service) recoverMove(ctx context.Context, ownerID, plannedID, newID string, cause error) (*model.Item, error) {
	mode := string(model.ModePlanned)

	planned, perr := s.repo.FindByID(ctx, model.ModePlanned, ownerID, plannedID)
	if perr != nil || planned != nil {
		s.metrics.RecordMutation(opComplete, mode, "error")
		return nil, fmt.Errorf("予定アイテムの完了への移動に失敗: %w", cause)
	}

	completed, cerr := s.repo.FindByID(ctx, model.ModeCompleted, ownerID, newID)
	if cerr != nil {
		s.metrics.RecordMutation(opComplete, mode, "error")
		return nil, fmt.Errorf("予定アイテムの完了への移動に失敗: %w", errors.Join(cause, cerr))
	}
	if completed != nil {
		slog.Warn("move reported failure but was committed",
			slog.String("planned_id", plannedID),
			slog.String("completed_id", newID),
			slog.String("error", cause.Error()),
		)
		return completed, nil
	}

	slog.Error("moved item lost",
		slog.String("owner_id", ownerID),
		slog.String("planned_id", plannedID),
		slog.String("error", cause.Error()),
	)
	s.metrics.RecordMovedItemLost()
	s.metrics.RecordMutation(opComplete, mode, "lost")
	return nil, model.NewMovedItemLostError(plannedID)
}

// OnChange は変更通知を受けてキャッシュを無効化する。
// 次回の取得で全件を取り直す。
func (s *Service) OnChange(ev model.ChangeEvent) {
	if ev.Op == model.ChangeResync {
		s.metrics.RecordRealtimeEvent("resync")
		if ev.OwnerID == "" {
			s.cache.InvalidateAll()
		} else {
			s.cache.InvalidateOwner(ev.OwnerID)
		}
		return
	}
	s.metrics.RecordRealtimeEvent(ev.Table)
	if mode, ok := ModeForTable(ev.Table); ok {
		s.cache.Invalidate(ev.OwnerID, mode)
		return
	}
	if ev.Table == "likes" {
		s.cache.InvalidateOwner(ev.OwnerID)
	}
}

// Forget は所有者のキャッシュを全て破棄する。退会時に使用する。
func (s *Service) Forget(ownerID string) {
	s.cache.InvalidateOwner(ownerID)
}

// ModeForTable はテーブル名に対応するモードを返す。
func ModeForTable(table string) (model.Mode, bool) {
	for _, m := range model.Modes {
		if t, _ := repository.ItemTable(m); t == table {
			return m, true
		}
	}
	return "", false
}

func (s *Service) notify(ctx context.Context, mode model.Mode, ownerID string, op model.ChangeOp, rowID string) {
	table, _ := repository.ItemTable(mode)
	realtime.Notify(ctx, s.publisher, model.ChangeEvent{Table: table, OwnerID: ownerID, Op: op, RowID: rowID, At: s.now()})
}

// IsMovedItemLost はエラーが完了への移動中のアイテム消失を表す場合にtrueを返す。
func IsMovedItemLost(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeMovedItemLost
}
