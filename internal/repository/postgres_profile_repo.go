package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ratioglobus/my-world/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `user_id, nickname, email, is_public, created_at`

func scanProfile(row rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	if err := row.Scan(&p.UserID, &p.Nickname, &p.Email, &p.IsPublic, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// FindByUserID はプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return p, nil
}

// CreateIfAbsent はプロフィールが存在しない場合に作成し、現在の行を返す。
// 同時に作成された場合も既存の行を返す。
func (r *PostgresProfileRepo) CreateIfAbsent(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, nickname, email, is_public, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, p.Nickname, p.Email, p.IsPublic, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}
	return r.FindByUserID(ctx, p.UserID)
}

// UpdateNickname はニックネームを更新する。
func (r *PostgresProfileRepo) UpdateNickname(ctx context.Context, userID, nickname string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET nickname = $2 WHERE user_id = $1`,
		userID, nickname,
	)
	if err != nil {
		return fmt.Errorf("ニックネームの更新に失敗しました: %w", err)
	}
	return nil
}

// SetPublic は公開設定を更新する。
func (r *PostgresProfileRepo) SetPublic(ctx context.Context, userID string, public bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET is_public = $2 WHERE user_id = $1`,
		userID, public,
	)
	if err != nil {
		return fmt.Errorf("公開設定の更新に失敗しました: %w", err)
	}
	return nil
}

// SearchPublic は公開プロフィールをニックネームの部分一致で検索する。
func (r *PostgresProfileRepo) SearchPublic(ctx context.Context, query string, limit int) ([]model.Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles
		 WHERE is_public = true AND nickname ILIKE $1 ESCAPE '\'
		 ORDER BY nickname
		 LIMIT $2`,
		"%"+escapeLike(query)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("プロフィール検索に失敗しました: %w", err)
	}
	defer rows.Close()

	out := []model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("プロフィール行の読み取りに失敗しました: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プロフィール検索結果の走査に失敗しました: %w", err)
	}
	return out, nil
}

// escapeLike はLIKEパターンの特殊文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
