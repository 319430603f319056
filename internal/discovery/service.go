// Package discovery は気づき（タイトル・説明・タグを持つメモ）の管理機能を提供する。
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/realtime"
	"github.com/ratioglobus/my-world/internal/repository"
)

const discoveriesTable = "discoveries"

// maxTags は1件あたりのタグ数の上限。
const maxTags = 20

// Draft は気づきの追加入力。
type Draft struct {
	Title       string
	Description string
	Tags        []string
}

// Patch は気づきの部分更新入力。nilのフィールドは変更しない。
type Patch struct {
	Title       *string
	Description *string
	Tags        *[]string
}

// Service は気づきのサービス。
type Service struct {
	repo      repository.DiscoveryRepository
	publisher realtime.Publisher

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.DiscoveryRepository, publisher realtime.Publisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// List は所有者の気づきを新しい順に返す。
func (s *Service) List(ctx context.Context, ownerID string) ([]model.Discovery, error) {
	list, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("気づき一覧の取得に失敗: %w", err)
	}
	return list, nil
}

// Add は気づきを追加する。
func (s *Service) Add(ctx context.Context, ownerID string, d Draft) (*model.Discovery, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return nil, model.NewValidationError("title", "タイトルは必須です")
	}
	tags, err := NormalizeTags(d.Tags)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, &model.Discovery{
		ID:          s.newID(),
		OwnerID:     ownerID,
		Title:       title,
		Description: strings.TrimSpace(d.Description),
		Tags:        tags,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("気づきの追加に失敗: %w", err)
	}
	s.notify(ctx, ownerID, model.ChangeInsert, created.ID)
	return created, nil
}

// Update は気づきのタイトル・説明・タグを更新する。
func (s *Service) Update(ctx context.Context, ownerID, id string, p Patch) (*model.Discovery, error) {
	current, err := s.get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	next := *current
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, model.NewValidationError("title", "タイトルは必須です")
		}
		next.Title = title
	}
	if p.Description != nil {
		next.Description = strings.TrimSpace(*p.Description)
	}
	if p.Tags != nil {
		tags, err := NormalizeTags(*p.Tags)
		if err != nil {
			return nil, err
		}
		next.Tags = tags
	}

	updated, err := s.repo.Update(ctx, &next)
	if err != nil {
		return nil, fmt.Errorf("気づきの更新に失敗: %w", err)
	}
	if updated == nil {
		return nil, model.NewDiscoveryNotFoundError(id)
	}
	s.notify(ctx, ownerID, model.ChangeUpdate, id)
	return updated, nil
}

// Delete は気づきを削除する。
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	found, err := s.repo.Delete(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("気づきの削除に失敗: %w", err)
	}
	if !found {
		return model.NewDiscoveryNotFoundError(id)
	}
	s.notify(ctx, ownerID, model.ChangeDelete, id)
	return nil
}

// SuggestedTags は所有者の他の気づきで使われているタグのうち、対象の気づきにまだ付いていないものを昇順で返す。
func (s *Service) SuggestedTags(ctx context.Context, ownerID, discoveryID string) ([]string, error) {
	list, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var current *model.Discovery
	for i := range list {
		if list[i].ID == discoveryID {
			current = &list[i]
			break
		}
	}
	if current == nil {
		return nil, model.NewDiscoveryNotFoundError(discoveryID)
	}
	return suggest(list, current), nil
}

// suggest は他の気づきのタグの和集合から対象のタグを除いた集合を返す。
func suggest(all []model.Discovery, current *model.Discovery) []string {
	have := make(map[string]bool, len(current.Tags))
	for _, t := range current.Tags {
		have[strings.ToLower(t)] = true
	}

	seen := make(map[string]bool)
	out := []string{}
	for _, d := range all {
		if d.ID == current.ID {
			continue
		}
		for _, t := range d.Tags {
			key := strings.ToLower(t)
			if have[key] || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeTags はタグの前後の空白を除去し、空のタグと重複（大文字小文字を区別しない）を取り除く。
func NormalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]bool, len(tags))
	out := []string{}
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, model.NewValidationError("tags", fmt.Sprintf("タグは%d個までです", maxTags))
	}
	return out, nil
}

func (s *Service) get(ctx context.Context, ownerID, id string) (*model.Discovery, error) {
	d, err := s.repo.FindByID(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("気づきの取得に失敗: %w", err)
	}
	if d == nil {
		return nil, model.NewDiscoveryNotFoundError(id)
	}
	return d, nil
}

func (s *Service) notify(ctx context.Context, ownerID string, op model.ChangeOp, id string) {
	realtime.Notify(ctx, s.publisher, model.ChangeEvent{Table: discoveriesTable, OwnerID: ownerID, Op: op, RowID: id, At: s.now()})
}
