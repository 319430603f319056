package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ratioglobus/my-world/internal/model"
)

// PostgresStepRepo はPostgreSQLを使用したプロジェクトステップリポジトリ。
type PostgresStepRepo struct {
	db *sql.DB
}

// NewPostgresStepRepo はPostgresStepRepoを生成する。
func NewPostgresStepRepo(db *sql.DB) *PostgresStepRepo {
	return &PostgresStepRepo{db: db}
}

const stepColumns = `id, project_id, user_id, title, completed, created_at`

func scanStep(row rowScanner) (*model.Step, error) {
	s := &model.Step{}
	if err := row.Scan(&s.ID, &s.ProjectID, &s.OwnerID, &s.Title, &s.Completed, &s.CreatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

// ListByProject はプロジェクトのステップをcreated_at昇順で返す。
func (r *PostgresStepRepo) ListByProject(ctx context.Context, ownerID, projectID string) ([]model.Step, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM project_steps
		 WHERE project_id = $1 AND user_id = $2
		 ORDER BY created_at ASC`,
		projectID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("ステップ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	steps := []model.Step{}
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("ステップ行の読み取りに失敗しました: %w", err)
		}
		steps = append(steps, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ステップ一覧の走査に失敗しました: %w", err)
	}
	return steps, nil
}

// FindByID はステップを取得する。見つからない場合はnilを返す。
func (r *PostgresStepRepo) FindByID(ctx context.Context, ownerID, stepID string) (*model.Step, error) {
	s, err := scanStep(r.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM project_steps WHERE id = $1 AND user_id = $2`,
		stepID, ownerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ステップの取得に失敗しました: %w", err)
	}
	return s, nil
}

// Create はステップを作成し、保存された行を返す。
func (r *PostgresStepRepo) Create(ctx context.Context, step *model.Step) (*model.Step, error) {
	s, err := scanStep(r.db.QueryRowContext(ctx,
		`INSERT INTO project_steps (id, project_id, user_id, title, completed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+stepColumns,
		step.ID, step.ProjectID, step.OwnerID, step.Title, step.Completed, step.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("ステップの作成に失敗しました: %w", err)
	}
	return s, nil
}

// SetCompleted はステップの完了状態を更新する。見つからない場合はnilを返す。
func (r *PostgresStepRepo) SetCompleted(ctx context.Context, ownerID, stepID string, completed bool) (*model.Step, error) {
	s, err := scanStep(r.db.QueryRowContext(ctx,
		`UPDATE project_steps SET completed = $3 WHERE id = $1 AND user_id = $2 RETURNING `+stepColumns,
		stepID, ownerID, completed,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ステップの更新に失敗しました: %w", err)
	}
	return s, nil
}

// Delete はステップを削除する。対象が存在しない場合はfalseを返す。
func (r *PostgresStepRepo) Delete(ctx context.Context, ownerID, stepID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM project_steps WHERE id = $1 AND user_id = $2`,
		stepID, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("ステップの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// CountByProject はプロジェクトのステップ総数と完了数を返す。
func (r *PostgresStepRepo) CountByProject(ctx context.Context, projectID string) (int, int, error) {
	var total, done int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), count(*) FILTER (WHERE completed)
		 FROM project_steps WHERE project_id = $1`,
		projectID,
	).Scan(&total, &done)
	if err != nil {
		return 0, 0, fmt.Errorf("ステップ数の集計に失敗しました: %w", err)
	}
	return total, done, nil
}

// compile-time interface check
var _ StepRepository = (*PostgresStepRepo)(nil)
