package project

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ratioglobus/my-world/internal/model"
)

// --- テスト用モック ---

// mockStepRepo はメモリ上でステップを保持するStepRepositoryモック。
type mockStepRepo struct {
	steps    map[string]*model.Step
	createFn func(ctx context.Context, step *model.Step) (*model.Step, error)
	countFn  func(ctx context.Context, projectID string) (int, int, error)
}

func newMockStepRepo() *mockStepRepo {
	return &mockStepRepo{steps: make(map[string]*model.Step)}
}

func (m *mockStepRepo) ListByProject(_ context.Context, ownerID, projectID string) ([]model.Step, error) {
	var out []model.Step
	for _, s := range m.steps {
		if s.ProjectID == projectID && s.OwnerID == ownerID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockStepRepo) FindByID(_ context.Context, ownerID, stepID string) (*model.Step, error) {
	s, ok := m.steps[stepID]
	if !ok || s.OwnerID != ownerID {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockStepRepo) Create(ctx context.Context, step *model.Step) (*model.Step, error) {
	if m.createFn != nil {
		return m.createFn(ctx, step)
	}
	cp := *step
	m.steps[step.ID] = &cp
	return step, nil
}

func (m *mockStepRepo) SetCompleted(_ context.Context, ownerID, stepID string, completed bool) (*model.Step, error) {
	s, ok := m.steps[stepID]
	if !ok || s.OwnerID != ownerID {
		return nil, nil
	}
	s.Completed = completed
	cp := *s
	return &cp, nil
}

func (m *mockStepRepo) Delete(_ context.Context, ownerID, stepID string) (bool, error) {
	s, ok := m.steps[stepID]
	if !ok || s.OwnerID != ownerID {
		return false, nil
	}
	delete(m.steps, stepID)
	return true, nil
}

func (m *mockStepRepo) CountByProject(ctx context.Context, projectID string) (int, int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, projectID)
	}
	var total, done int
	for _, s := range m.steps {
		if s.ProjectID != projectID {
			continue
		}
		total++
		if s.Completed {
			done++
		}
	}
	return total, done, nil
}

// mockProjectStore は進捗の保存を記録するProjectStoreモック。
type mockProjectStore struct {
	projects map[string]*model.Item
	applied  []int
}

func (m *mockProjectStore) Get(_ context.Context, ownerID, id string, _ model.Mode) (*model.Item, error) {
	p, ok := m.projects[id]
	if !ok || p.OwnerID != ownerID {
		return nil, model.NewItemNotFoundError(id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockProjectStore) ApplyProgress(_ context.Context, ownerID, projectID string, progress int) (*model.Item, error) {
	p, ok := m.projects[projectID]
	if !ok || p.OwnerID != ownerID {
		return nil, model.NewItemNotFoundError(projectID)
	}
	m.applied = append(m.applied, progress)
	p.Progress = progress
	cp := *p
	return &cp, nil
}

type mockPublisher struct {
	events []model.ChangeEvent
}

func (m *mockPublisher) Publish(_ context.Context, ev model.ChangeEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func newTestService() (*Service, *mockStepRepo, *mockProjectStore, *mockPublisher) {
	steps := newMockStepRepo()
	store := &mockProjectStore{projects: map[string]*model.Item{
		"proj-1": {ID: "proj-1", OwnerID: "user-1", Title: "Garden", Status: model.StatusInProgress},
	}}
	pub := &mockPublisher{}
	svc := NewService(steps, store, pub)

	n := 0
	svc.newID = func() string {
		n++
		return "step-" + string(rune('0'+n))
	}
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return svc, steps, store, pub
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("code = %q, want %q", apiErr.Code, code)
	}
}

// TestService_ProgressFollowsSteps はステップの追加・完了・削除に応じて進捗が再計算されることをテストする。
func TestService_ProgressFollowsSteps(t *testing.T) {
	svc, _, store, pub := newTestService()
	ctx := context.Background()

	r1, err := svc.AddStep(ctx, "user-1", "proj-1", "Dig")
	if err != nil {
		t.Fatalf("AddStep returned error: %v", err)
	}
	if r1.Project.Progress != 0 {
		t.Errorf("progress after first step = %d, want 0", r1.Project.Progress)
	}
	r2, _ := svc.AddStep(ctx, "user-1", "proj-1", "Plant")
	_, _ = svc.AddStep(ctx, "user-1", "proj-1", "Water")

	done, err := svc.ToggleStep(ctx, "user-1", "proj-1", r2.Step.ID, true)
	if err != nil {
		t.Fatalf("ToggleStep returned error: %v", err)
	}
	if done.Project.Progress != 33 {
		t.Errorf("progress = %d, want 33 (1 of 3)", done.Project.Progress)
	}

	parent, err := svc.DeleteStep(ctx, "user-1", "proj-1", r1.Step.ID)
	if err != nil {
		t.Fatalf("DeleteStep returned error: %v", err)
	}
	if parent.Progress != 50 {
		t.Errorf("progress = %d, want 50 (1 of 2)", parent.Progress)
	}

	want := []int{0, 0, 0, 33, 50}
	if len(store.applied) != len(want) {
		t.Fatalf("applied = %v, want %v", store.applied, want)
	}
	for i := range want {
		if store.applied[i] != want[i] {
			t.Errorf("applied[%d] = %d, want %d", i, store.applied[i], want[i])
		}
	}
	if len(pub.events) != 5 {
		t.Errorf("events = %d, want 5", len(pub.events))
	}
}

// TestService_RefreshProgress_NoSteps はステップがない場合に進捗が0になることをテストする。
func TestService_RefreshProgress_NoSteps(t *testing.T) {
	svc, _, store, _ := newTestService()
	store.projects["proj-1"].Progress = 70

	got, err := svc.RefreshProgress(context.Background(), "user-1", "proj-1")
	if err != nil {
		t.Fatalf("RefreshProgress returned error: %v", err)
	}
	if got.Progress != 0 {
		t.Errorf("Progress = %d, want 0", got.Progress)
	}
}

// TestService_DeleteLastStep_ResetsStoredProgress は最後のステップを削除すると保存済みの進捗も0に戻ることをテストする。
func TestService_DeleteLastStep_ResetsStoredProgress(t *testing.T) {
	svc, _, store, _ := newTestService()
	ctx := context.Background()

	r, err := svc.AddStep(ctx, "user-1", "proj-1", "Only")
	if err != nil {
		t.Fatalf("AddStep returned error: %v", err)
	}
	if _, err := svc.ToggleStep(ctx, "user-1", "proj-1", r.Step.ID, true); err != nil {
		t.Fatalf("ToggleStep returned error: %v", err)
	}
	store.projects["proj-1"].Progress = 85

	parent, err := svc.DeleteStep(ctx, "user-1", "proj-1", r.Step.ID)
	if err != nil {
		t.Fatalf("DeleteStep returned error: %v", err)
	}
	if parent.Progress != 0 || store.projects["proj-1"].Progress != 0 {
		t.Errorf("progress = %d (stored %d), want 0", parent.Progress, store.projects["proj-1"].Progress)
	}
}

// TestService_AddStep_Validation は空のステップ名が拒否されることをテストする。
func TestService_AddStep_Validation(t *testing.T) {
	svc, steps, _, _ := newTestService()
	_, err := svc.AddStep(context.Background(), "user-1", "proj-1", "   ")
	assertCode(t, err, model.ErrCodeValidation)
	if len(steps.steps) != 0 {
		t.Error("step must not be created")
	}
}

// TestService_AddStep_UnknownProject は他ユーザーや存在しないプロジェクトへの追加が拒否されることをテストする。
func TestService_AddStep_UnknownProject(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.AddStep(context.Background(), "user-2", "proj-1", "Dig")
	assertCode(t, err, model.ErrCodeItemNotFound)
}

// TestService_ToggleStep_WrongProject は別プロジェクトのステップIDでSTEP_NOT_FOUNDになることをテストする。
func TestService_ToggleStep_WrongProject(t *testing.T) {
	svc, steps, _, _ := newTestService()
	steps.steps["s"] = &model.Step{ID: "s", ProjectID: "proj-2", OwnerID: "user-1", Title: "x"}

	_, err := svc.ToggleStep(context.Background(), "user-1", "proj-1", "s", true)
	assertCode(t, err, model.ErrCodeStepNotFound)
}

// TestService_DeleteStep_NotFound は存在しないステップの削除でSTEP_NOT_FOUNDになることをテストする。
func TestService_DeleteStep_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.DeleteStep(context.Background(), "user-1", "proj-1", "missing")
	assertCode(t, err, model.ErrCodeStepNotFound)
}

// TestService_RefreshProgress_CountError は集計エラーがラップされて返ることをテストする。
func TestService_RefreshProgress_CountError(t *testing.T) {
	svc, steps, _, _ := newTestService()
	countErr := errors.New("timeout")
	steps.countFn = func(context.Context, string) (int, int, error) { return 0, 0, countErr }

	_, err := svc.RefreshProgress(context.Background(), "user-1", "proj-1")
	if !errors.Is(err, countErr) {
		t.Errorf("err = %v, want wrapped count error", err)
	}
}

// TestService_ListSteps は所有者のステップのみが返ることをテストする。
func TestService_ListSteps(t *testing.T) {
	svc, steps, _, _ := newTestService()
	steps.steps["a"] = &model.Step{ID: "a", ProjectID: "proj-1", OwnerID: "user-1", Title: "A"}
	steps.steps["b"] = &model.Step{ID: "b", ProjectID: "proj-1", OwnerID: "user-2", Title: "B"}

	got, err := svc.ListSteps(context.Background(), "user-1", "proj-1")
	if err != nil {
		t.Fatalf("ListSteps returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("steps = %+v", got)
	}
}
