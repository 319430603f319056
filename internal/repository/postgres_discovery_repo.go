package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ratioglobus/my-world/internal/model"
)

// PostgresDiscoveryRepo はPostgreSQLを使用した気づきリポジトリ。
// タグはTEXT[]列に保存する。
type PostgresDiscoveryRepo struct {
	db *sql.DB
}

// NewPostgresDiscoveryRepo はPostgresDiscoveryRepoを生成する。
func NewPostgresDiscoveryRepo(db *sql.DB) *PostgresDiscoveryRepo {
	return &PostgresDiscoveryRepo{db: db}
}

const discoveryColumns = `id, user_id, title, description, tags, created_at`

func scanDiscovery(row rowScanner) (*model.Discovery, error) {
	d := &model.Discovery{}
	var tags pq.StringArray
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Title, &d.Description, &tags, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Tags = []string(tags)
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return d, nil
}

// ListByOwner は所有者の気づきをcreated_at降順で返す。
func (r *PostgresDiscoveryRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Discovery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+discoveryColumns+` FROM discoveries WHERE user_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("気づき一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	out := []model.Discovery{}
	for rows.Next() {
		d, err := scanDiscovery(rows)
		if err != nil {
			return nil, fmt.Errorf("気づき行の読み取りに失敗しました: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("気づき一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}

// FindByID は気づきを取得する。見つからない場合はnilを返す。
func (r *PostgresDiscoveryRepo) FindByID(ctx context.Context, ownerID, id string) (*model.Discovery, error) {
	d, err := scanDiscovery(r.db.QueryRowContext(ctx,
		`SELECT `+discoveryColumns+` FROM discoveries WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("気づきの取得に失敗しました: %w", err)
	}
	return d, nil
}

// Create は気づきを作成し、保存された行を返す。
func (r *PostgresDiscoveryRepo) Create(ctx context.Context, d *model.Discovery) (*model.Discovery, error) {
	saved, err := scanDiscovery(r.db.QueryRowContext(ctx,
		`INSERT INTO discoveries (id, user_id, title, description, tags, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+discoveryColumns,
		d.ID, d.OwnerID, d.Title, d.Description, pq.Array(d.Tags), d.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("気づきの作成に失敗しました: %w", err)
	}
	return saved, nil
}

// Update は気づきのタイトル・説明・タグを更新する。見つからない場合はnilを返す。
func (r *PostgresDiscoveryRepo) Update(ctx context.Context, d *model.Discovery) (*model.Discovery, error) {
	saved, err := scanDiscovery(r.db.QueryRowContext(ctx,
		`UPDATE discoveries SET title = $3, description = $4, tags = $5
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+discoveryColumns,
		d.ID, d.OwnerID, d.Title, d.Description, pq.Array(d.Tags),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("気づきの更新に失敗しました: %w", err)
	}
	return saved, nil
}

// Delete は気づきを削除する。対象が存在しない場合はfalseを返す。
func (r *PostgresDiscoveryRepo) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM discoveries WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("気づきの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ DiscoveryRepository = (*PostgresDiscoveryRepo)(nil)
