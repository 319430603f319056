// Package project はプロジェクトのステップ管理と進捗の再計算を提供する。
package project

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/realtime"
	"github.com/ratioglobus/my-world/internal/repository"
)

// stepsTable は変更通知で使用するテーブル名。
const stepsTable = "project_steps"

// ProjectStore はステップの親となるプロジェクトの取得と進捗の保存を行うインターフェース。
// item.Serviceが実装する。
type ProjectStore interface {
	Get(ctx context.Context, ownerID, id string, mode model.Mode) (*model.Item, error)
	ApplyProgress(ctx context.Context, ownerID, projectID string, progress int) (*model.Item, error)
}

// StepResult はステップ変更の結果。変更後のステップと再計算後のプロジェクトを含む。
type StepResult struct {
	Step    *model.Step
	Project *model.Item
}

// Service はプロジェクトステップのサービス。
type Service struct {
	steps     repository.StepRepository
	projects  ProjectStore
	publisher realtime.Publisher

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(steps repository.StepRepository, projects ProjectStore, publisher realtime.Publisher) *Service {
	return &Service{
		steps:     steps,
		projects:  projects,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// ListSteps はプロジェクトのステップを作成順に返す。
func (s *Service) ListSteps(ctx context.Context, ownerID, projectID string) ([]model.Step, error) {
	if _, err := s.projects.Get(ctx, ownerID, projectID, model.ModeProjects); err != nil {
		return nil, err
	}
	steps, err := s.steps.ListByProject(ctx, ownerID, projectID)
	if err != nil {
		return nil, fmt.Errorf("ステップ一覧の取得に失敗: %w", err)
	}
	return steps, nil
}

// AddStep はステップを追加し、プロジェクトの進捗を再計算する。
func (s *Service) AddStep(ctx context.Context, ownerID, projectID, title string) (*StepResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, model.NewValidationError("title", "ステップ名は必須です")
	}
	if _, err := s.projects.Get(ctx, ownerID, projectID, model.ModeProjects); err != nil {
		return nil, err
	}

	step, err := s.steps.Create(ctx, &model.Step{
		ID:        s.newID(),
		ProjectID: projectID,
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("ステップの追加に失敗: %w", err)
	}
	s.notify(ctx, ownerID, model.ChangeInsert, step.ID)

	parent, err := s.RefreshProgress(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	return &StepResult{Step: step, Project: parent}, nil
}

// ToggleStep はステップの完了状態を設定し、プロジェクトの進捗を再計算する。
func (s *Service) ToggleStep(ctx context.Context, ownerID, projectID, stepID string, completed bool) (*StepResult, error) {
	if _, err := s.findStep(ctx, ownerID, projectID, stepID); err != nil {
		return nil, err
	}

	step, err := s.steps.SetCompleted(ctx, ownerID, stepID, completed)
	if err != nil {
		return nil, fmt.Errorf("ステップの更新に失敗: %w", err)
	}
	if step == nil {
		return nil, model.NewStepNotFoundError(stepID)
	}
	s.notify(ctx, ownerID, model.ChangeUpdate, stepID)

	parent, err := s.RefreshProgress(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	return &StepResult{Step: step, Project: parent}, nil
}

// DeleteStep はステップを削除し、再計算後のプロジェクトを返す。
func (s *Service) DeleteStep(ctx context.Context, ownerID, projectID, stepID string) (*model.Item, error) {
	if _, err := s.findStep(ctx, ownerID, projectID, stepID); err != nil {
		return nil, err
	}

	found, err := s.steps.Delete(ctx, ownerID, stepID)
	if err != nil {
		return nil, fmt.Errorf("ステップの削除に失敗: %w", err)
	}
	if !found {
		return nil, model.NewStepNotFoundError(stepID)
	}
	s.notify(ctx, ownerID, model.ChangeDelete, stepID)

	return s.RefreshProgress(ctx, ownerID, projectID)
}

// RefreshProgress はステップの完了率からプロジェクトの進捗を算出して保存し、更新後のプロジェクトを返す。
// ステップが1つもない場合の進捗は0。
func (s *Service) RefreshProgress(ctx context.Context, ownerID, projectID string) (*model.Item, error) {
	total, done, err := s.steps.CountByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("進捗の再計算に失敗: %w", err)
	}
	return s.projects.ApplyProgress(ctx, ownerID, projectID, model.ProgressFromSteps(total, done))
}

// findStep は所有者のステップを取得し、指定プロジェクトに属することを確認する。
func (s *Service) findStep(ctx context.Context, ownerID, projectID, stepID string) (*model.Step, error) {
	step, err := s.steps.FindByID(ctx, ownerID, stepID)
	if err != nil {
		return nil, fmt.Errorf("ステップの取得に失敗: %w", err)
	}
	if step == nil || step.ProjectID != projectID {
		return nil, model.NewStepNotFoundError(stepID)
	}
	return step, nil
}

func (s *Service) notify(ctx context.Context, ownerID string, op model.ChangeOp, stepID string) {
	realtime.Notify(ctx, s.publisher, model.ChangeEvent{Table: stepsTable, OwnerID: ownerID, Op: op, RowID: stepID, At: s.now()})
}
