package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ratioglobus/my-world/internal/model"
)

// PostgresItemRepo はPostgreSQLを使用したアイテムリポジトリ。
// モードごとに completed_items / planned_items / projects テーブルを使い分ける。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

// ItemTable はモードに対応するテーブル名を返す。
// テーブル名はSQLに埋め込むため、定義済みのモード以外はエラーとする。
func ItemTable(mode model.Mode) (string, error) {
	switch mode {
	case model.ModeCompleted:
		return "completed_items", nil
	case model.ModePlanned:
		return "planned_items", nil
	case model.ModeProjects:
		return "projects", nil
	}
	return "", fmt.Errorf("unknown item mode: %q", mode)
}

const itemColumns = `i.id, i.user_id, i.title, i.category, i.priority, i.rating, i.comment,
	i.created_at, i.completed_at, i.is_archived, i.is_hidden, i.is_pinned,
	i.status, i.progress, i.deadline`

// returningColumns はRETURNING句用の列リスト（エイリアスなし）。
var returningColumns = strings.ReplaceAll(itemColumns, "i.", "")

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem は1行をmodel.Itemに読み込む。extraにはitemColumnsの後に続く列の格納先を渡す。
func scanItem(row rowScanner, extra ...any) (*model.Item, error) {
	it := &model.Item{}
	var category, comment, status sql.NullString
	var rating sql.NullInt64
	var completedAt, deadline sql.NullTime

	dest := []any{
		&it.ID, &it.OwnerID, &it.Title, &category, &it.Priority, &rating, &comment,
		&it.CreatedAt, &completedAt, &it.IsArchived, &it.IsHidden, &it.IsPinned,
		&status, &it.Progress, &deadline,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	it.Category = model.Category(nullStringValue(category))
	it.Comment = nullStringValue(comment)
	it.Status = model.ProjectStatus(nullStringValue(status))
	if rating.Valid {
		r := int(rating.Int64)
		it.Rating = &r
	}
	if completedAt.Valid {
		it.CompletedAt = &completedAt.Time
	}
	if deadline.Valid {
		it.Deadline = &deadline.Time
	}
	return it, nil
}

// listWithLikes はいいね集計付きの一覧取得を行う共通処理。
func (r *PostgresItemRepo) listWithLikes(ctx context.Context, mode model.Mode, ownerID, viewerID, cond string) ([]model.Item, error) {
	table, err := ItemTable(mode)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s,
		       (SELECT count(*) FROM likes l WHERE l.item_table = $2 AND l.item_id = i.id) AS likes_count,
		       EXISTS (SELECT 1 FROM likes l WHERE l.item_table = $2 AND l.item_id = i.id AND l.user_id = $3) AS liked_by_me
		FROM %s i
		WHERE i.user_id = $1%s
		ORDER BY i.created_at DESC`, itemColumns, table, cond)

	rows, err := r.db.QueryContext(ctx, query, ownerID, table, nullString(viewerID))
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		var likes int
		var liked bool
		it, err := scanItem(rows, &likes, &liked)
		if err != nil {
			return nil, fmt.Errorf("アイテム行の読み取りに失敗しました: %w", err)
		}
		it.LikesCount = likes
		it.LikedByMe = liked
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイテム一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

// List は所有者の全アイテム（アーカイブ済みを含む）をcreated_at降順で返す。
func (r *PostgresItemRepo) List(ctx context.Context, mode model.Mode, ownerID, viewerID string) ([]model.Item, error) {
	return r.listWithLikes(ctx, mode, ownerID, viewerID, "")
}

// ListArchived は所有者のアーカイブ済みアイテムをcreated_at降順で返す。
func (r *PostgresItemRepo) ListArchived(ctx context.Context, mode model.Mode, ownerID string) ([]model.Item, error) {
	return r.listWithLikes(ctx, mode, ownerID, "", " AND i.is_archived = true")
}

// ListPublic は非表示・アーカイブ済みを除いたアイテムを返す。
func (r *PostgresItemRepo) ListPublic(ctx context.Context, mode model.Mode, ownerID, viewerID string) ([]model.Item, error) {
	return r.listWithLikes(ctx, mode, ownerID, viewerID, " AND i.is_hidden = false AND i.is_archived = false")
}

// FindByID は所有者のアイテムを取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, mode model.Mode, ownerID, id string) (*model.Item, error) {
	table, err := ItemTable(mode)
	if err != nil {
		return nil, err
	}

	it, err := scanItem(r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s i WHERE i.id = $1 AND i.user_id = $2`, itemColumns, table),
		id, ownerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	return it, nil
}

// Create はアイテムを作成し、保存された行を返す。
func (r *PostgresItemRepo) Create(ctx context.Context, mode model.Mode, item *model.Item) (*model.Item, error) {
	table, err := ItemTable(mode)
	if err != nil {
		return nil, err
	}
	return insertItem(ctx, r.db, table, item)
}

// queryRower はQueryRowContextを持つ*sql.DBと*sql.Txの共通インターフェース。
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertItem(ctx context.Context, q queryRower, table string, item *model.Item) (*model.Item, error) {
	var rating sql.NullInt64
	if item.Rating != nil {
		rating = sql.NullInt64{Int64: int64(*item.Rating), Valid: true}
	}

	saved, err := scanItem(q.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, title, category, priority, rating, comment,
		                             created_at, completed_at, is_archived, is_hidden, is_pinned,
		                             status, progress, deadline)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING %s`, table, returningColumns),
		item.ID, item.OwnerID, item.Title, nullString(string(item.Category)), item.Priority,
		rating, nullString(item.Comment), item.CreatedAt, item.CompletedAt,
		item.IsArchived, item.IsHidden, item.IsPinned,
		nullString(string(item.Status)), item.Progress, item.Deadline,
	))
	if err != nil {
		return nil, fmt.Errorf("アイテムの作成に失敗しました: %w", err)
	}
	return saved, nil
}

// buildItemUpdate は部分更新用のUPDATE文を組み立てる。
// nilのフィールドはSET句に含めない。$1はID、$2は所有者IDとする。
func buildItemUpdate(table, ownerID, id string, p model.ItemPatch) (string, []any) {
	var sets []string
	args := []any{id, ownerID}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Category != nil {
		add("category", nullString(string(*p.Category)))
	}
	if p.Priority != nil {
		add("priority", string(*p.Priority))
	}
	if p.Rating != nil {
		add("rating", *p.Rating)
	}
	if p.Comment != nil {
		add("comment", nullString(*p.Comment))
	}
	if p.Status != nil {
		add("status", nullString(string(*p.Status)))
	}
	if p.Progress != nil {
		add("progress", model.ClampProgress(*p.Progress))
	}
	if p.ClearDeadline {
		sets = append(sets, "deadline = NULL")
	} else if p.Deadline != nil {
		add("deadline", *p.Deadline)
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 AND user_id = $2 RETURNING %s`,
		table, strings.Join(sets, ", "), returningColumns)
	return query, args
}

// Update はアイテムを部分更新し、更新後の行を返す。見つからない場合はnilを返す。
// 変更対象のフィールドがない場合は現在の行を返す。
func (r *PostgresItemRepo) Update(ctx context.Context, mode model.Mode, ownerID, id string, patch model.ItemPatch) (*model.Item, error) {
	if patch.IsEmpty() {
		return r.FindByID(ctx, mode, ownerID, id)
	}
	table, err := ItemTable(mode)
	if err != nil {
		return nil, err
	}

	query, args := buildItemUpdate(table, ownerID, id, patch)
	it, err := scanItem(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの更新に失敗しました: %w", err)
	}
	return it, nil
}

// SetFlag はアイテムのフラグを設定する。対象が存在しない場合はfalseを返す。
// 同じ値を再設定しても結果は変わらない。
func (r *PostgresItemRepo) SetFlag(ctx context.Context, mode model.Mode, ownerID, id string, flag model.ItemFlag, value bool) (bool, error) {
	table, err := ItemTable(mode)
	if err != nil {
		return false, err
	}
	switch flag {
	case model.FlagArchived, model.FlagHidden, model.FlagPinned:
	default:
		return false, fmt.Errorf("unknown item flag: %q", flag)
	}

	result, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $3 WHERE id = $1 AND user_id = $2`, table, flag),
		id, ownerID, value,
	)
	if err != nil {
		return false, fmt.Errorf("アイテムのフラグ更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete はアイテムを削除する。関連するいいねも同一トランザクションで削除する。
func (r *PostgresItemRepo) Delete(ctx context.Context, mode model.Mode, ownerID, id string) (bool, error) {
	table, err := ItemTable(mode)
	if err != nil {
		return false, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2`, table),
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("アイテムの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM likes WHERE item_table = $1 AND item_id = $2`, table, id,
	); err != nil {
		return false, fmt.Errorf("いいねの削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// MoveToCompleted は予定アイテムを完了コレクションへ移動する。
// 予定側の行をロックして読み込み、完了側へ新しいIDで挿入してから予定側を削除する。
// いずれかの手順が失敗した場合はロールバックされ、どちらのコレクションも変化しない。
func (r *PostgresItemRepo) MoveToCompleted(
	ctx context.Context,
	ownerID, plannedID, newID string,
	rating int,
	completedAt time.Time,
) (*model.Item, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	planned, err := scanItem(tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM planned_items i WHERE i.id = $1 AND i.user_id = $2 FOR UPDATE`, itemColumns),
		plannedID, ownerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("予定アイテムの取得に失敗しました: %w", err)
	}

	moved := *planned
	moved.ID = newID
	moved.Rating = &rating
	moved.CompletedAt = &completedAt
	moved.IsArchived = false

	saved, err := insertItem(ctx, tx, "completed_items", &moved)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM planned_items WHERE id = $1 AND user_id = $2`,
		plannedID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("予定アイテムの削除に失敗しました: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n != 1 {
		return nil, fmt.Errorf("予定アイテムの削除件数が不正です: %d: %v", n, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM likes WHERE item_table = 'planned_items' AND item_id = $1`, plannedID,
	); err != nil {
		return nil, fmt.Errorf("いいねの削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return saved, nil
}

// UpdateProgress はプロジェクトの進捗を更新し、更新後の行を返す。
func (r *PostgresItemRepo) UpdateProgress(ctx context.Context, ownerID, projectID string, progress int) (*model.Item, error) {
	it, err := scanItem(r.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE projects SET progress = $3 WHERE id = $1 AND user_id = $2 RETURNING %s`, returningColumns),
		projectID, ownerID, model.ClampProgress(progress),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロジェクト進捗の更新に失敗しました: %w", err)
	}
	return it, nil
}

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
