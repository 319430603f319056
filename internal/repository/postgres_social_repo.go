package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ratioglobus/my-world/internal/model"
)

// PostgresFollowRepo はPostgreSQLを使用したフォローリポジトリ。
type PostgresFollowRepo struct {
	db *sql.DB
}

// NewPostgresFollowRepo はPostgresFollowRepoを生成する。
func NewPostgresFollowRepo(db *sql.DB) *PostgresFollowRepo {
	return &PostgresFollowRepo{db: db}
}

// Create はフォロー関係を作成する。既に存在する場合は何もしない。
func (r *PostgresFollowRepo) Create(ctx context.Context, followerID, followingID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO follows (follower_id, following_id) VALUES ($1, $2)
		 ON CONFLICT (follower_id, following_id) DO NOTHING`,
		followerID, followingID,
	)
	if err != nil {
		return fmt.Errorf("フォローの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete はフォロー関係を削除する。
func (r *PostgresFollowRepo) Delete(ctx context.Context, followerID, followingID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND following_id = $2`,
		followerID, followingID,
	)
	if err != nil {
		return fmt.Errorf("フォローの削除に失敗しました: %w", err)
	}
	return nil
}

// Exists はフォロー関係が存在するかどうかを返す。
func (r *PostgresFollowRepo) Exists(ctx context.Context, followerID, followingID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND following_id = $2)`,
		followerID, followingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("フォロー状態の取得に失敗しました: %w", err)
	}
	return exists, nil
}

// ListFollowing はフォロー中のユーザーのプロフィール情報を返す。
// プロフィールが未作成のユーザーはニックネーム・メールアドレスを空で返す。
func (r *PostgresFollowRepo) ListFollowing(ctx context.Context, followerID string) ([]model.FollowedProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT f.following_id, COALESCE(p.nickname, ''), COALESCE(p.email, '')
		 FROM follows f
		 LEFT JOIN profiles p ON p.user_id = f.following_id
		 WHERE f.follower_id = $1
		 ORDER BY f.created_at DESC`,
		followerID,
	)
	if err != nil {
		return nil, fmt.Errorf("フォロー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	out := []model.FollowedProfile{}
	for rows.Next() {
		var fp model.FollowedProfile
		if err := rows.Scan(&fp.UserID, &fp.Nickname, &fp.Email); err != nil {
			return nil, fmt.Errorf("フォロー行の読み取りに失敗しました: %w", err)
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フォロー一覧の走査に失敗しました: %w", err)
	}
	return out, nil
}

// PostgresLikeRepo はPostgreSQLを使用したいいねリポジトリ。
type PostgresLikeRepo struct {
	db *sql.DB
}

// NewPostgresLikeRepo はPostgresLikeRepoを生成する。
func NewPostgresLikeRepo(db *sql.DB) *PostgresLikeRepo {
	return &PostgresLikeRepo{db: db}
}

// Create はいいねを作成する。既に存在する場合は何もしない。
func (r *PostgresLikeRepo) Create(ctx context.Context, userID string, mode model.Mode, itemID string) error {
	table, err := ItemTable(mode)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO likes (user_id, item_table, item_id) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, item_table, item_id) DO NOTHING`,
		userID, table, itemID,
	)
	if err != nil {
		return fmt.Errorf("いいねの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete はいいねを削除する。
func (r *PostgresLikeRepo) Delete(ctx context.Context, userID string, mode model.Mode, itemID string) error {
	table, err := ItemTable(mode)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`DELETE FROM likes WHERE user_id = $1 AND item_table = $2 AND item_id = $3`,
		userID, table, itemID,
	)
	if err != nil {
		return fmt.Errorf("いいねの削除に失敗しました: %w", err)
	}
	return nil
}

// State はアイテムのいいね数と指定ユーザーのいいね状態を返す。
func (r *PostgresLikeRepo) State(ctx context.Context, mode model.Mode, itemID, userID string) (*model.LikeState, error) {
	table, err := ItemTable(mode)
	if err != nil {
		return nil, err
	}
	st := &model.LikeState{ItemID: itemID}
	err = r.db.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(bool_or(user_id = $3), false)
		 FROM likes WHERE item_table = $1 AND item_id = $2`,
		table, itemID, userID,
	).Scan(&st.LikesCount, &st.LikedByMe)
	if err != nil {
		return nil, fmt.Errorf("いいね状態の取得に失敗しました: %w", err)
	}
	return st, nil
}

// DeleteOrphans は参照先のアイテムが存在しないいいねを削除し、削除件数を返す。
// 退会によるアイテムのCASCADE削除ではlikesが残るため、定期ジョブから呼び出す。
func (r *PostgresLikeRepo) DeleteOrphans(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM likes l
		 WHERE (l.item_table = 'completed_items' AND NOT EXISTS (SELECT 1 FROM completed_items i WHERE i.id = l.item_id))
		    OR (l.item_table = 'planned_items' AND NOT EXISTS (SELECT 1 FROM planned_items i WHERE i.id = l.item_id))
		    OR (l.item_table = 'projects' AND NOT EXISTS (SELECT 1 FROM projects i WHERE i.id = l.item_id))`,
	)
	if err != nil {
		return 0, fmt.Errorf("孤立したいいねの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ FollowRepository = (*PostgresFollowRepo)(nil)
var _ LikeRepository = (*PostgresLikeRepo)(nil)
