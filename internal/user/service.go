// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/repository"
)

// CacheForgetter は所有者のキャッシュを破棄するインターフェース。
// item.Serviceが実装する。
type CacheForgetter interface {
	Forget(ownerID string)
}

// Service は退会処理を提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	cache       CacheForgetter
}

// NewService はServiceを生成する。sessionRepoとcacheはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	cache CacheForgetter,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		cache:       cache,
	}
}

// Withdraw はパスワードを再確認したうえでユーザーを削除する。
// 全セッションを先に削除し、ユーザーの削除でプロフィール、アイテム、ステップ、気づき、フォロー、
// 自分が付けたいいねがCASCADE削除される。他ユーザーが自分のアイテムに付けたいいねは
// クリーンアップワーカーが後で削除する。
func (s *Service) Withdraw(ctx context.Context, userID, password string) error {
	if password == "" {
		return model.NewValidationError("password", "退会にはパスワードの再入力が必要です")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("withdrawal rejected", slog.String("user_id", userID), slog.String("reason", "password mismatch"))
		return model.NewInvalidCredentialsError()
	}

	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	if s.cache != nil {
		s.cache.Forget(userID)
	}

	slog.Info("user withdrawn", slog.String("user_id", userID))
	return nil
}
