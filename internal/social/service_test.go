package social

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ratioglobus/my-world/internal/model"
)

// --- テスト用モック ---

type mockUserRepo struct {
	users map[string]*model.User
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

func (m *mockUserRepo) FindByEmail(context.Context, string) (*model.User, error) { return nil, nil }
func (m *mockUserRepo) Create(context.Context, *model.User) error { return nil }
func (m *mockUserRepo) DeleteByID(context.Context, string) error { return nil }

type mockProfileRepo struct {
	profiles      map[string]*model.Profile
	searchFn      func(ctx context.Context, query string, limit int) ([]model.Profile, error)
	nicknameCalls int
}

func (m *mockProfileRepo) FindByUserID(_ context.Context, userID string) (*model.Profile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockProfileRepo) CreateIfAbsent(_ context.Context, p *model.Profile) (*model.Profile, error) {
	if existing, ok := m.profiles[p.UserID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *p
	m.profiles[p.UserID] = &cp
	return p, nil
}

func (m *mockProfileRepo) UpdateNickname(_ context.Context, userID, nickname string) error {
	m.nicknameCalls++
	m.profiles[userID].Nickname = nickname
	return nil
}

func (m *mockProfileRepo) SetPublic(_ context.Context, userID string, public bool) error {
	m.profiles[userID].IsPublic = public
	return nil
}

func (m *mockProfileRepo) SearchPublic(ctx context.Context, query string, limit int) ([]model.Profile, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query, limit)
	}
	return nil, nil
}

type mockFollowRepo struct {
	follows map[[2]string]bool
	listFn  func(ctx context.Context, followerID string) ([]model.FollowedProfile, error)
}

func (m *mockFollowRepo) Create(_ context.Context, followerID, followingID string) error {
	m.follows[[2]string{followerID, followingID}] = true
	return nil
}

func (m *mockFollowRepo) Delete(_ context.Context, followerID, followingID string) error {
	delete(m.follows, [2]string{followerID, followingID})
	return nil
}

func (m *mockFollowRepo) Exists(_ context.Context, followerID, followingID string) (bool, error) {
	return m.follows[[2]string{followerID, followingID}], nil
}

func (m *mockFollowRepo) ListFollowing(ctx context.Context, followerID string) ([]model.FollowedProfile, error) {
	if m.listFn != nil {
		return m.listFn(ctx, followerID)
	}
	return nil, nil
}

type mockLikeRepo struct {
	likes map[string]map[string]bool // itemID -> userID
}

func (m *mockLikeRepo) Create(_ context.Context, userID string, _ model.Mode, itemID string) error {
	if m.likes[itemID] == nil {
		m.likes[itemID] = make(map[string]bool)
	}
	m.likes[itemID][userID] = true
	return nil
}

func (m *mockLikeRepo) Delete(_ context.Context, userID string, _ model.Mode, itemID string) error {
	delete(m.likes[itemID], userID)
	return nil
}

func (m *mockLikeRepo) State(_ context.Context, _ model.Mode, itemID, userID string) (*model.LikeState, error) {
	return &model.LikeState{
		ItemID:     itemID,
		LikesCount: len(m.likes[itemID]),
		LikedByMe:  m.likes[itemID][userID],
	}, nil
}

type mockItemReader struct {
	listFn func(ctx context.Context, viewerID, ownerID string, mode model.Mode) ([]model.Item, error)
	items  map[string]*model.Item
}

func (m *mockItemReader) List(ctx context.Context, viewerID, ownerID string, mode model.Mode) ([]model.Item, error) {
	if m.listFn != nil {
		return m.listFn(ctx, viewerID, ownerID, mode)
	}
	return nil, nil
}

func (m *mockItemReader) Get(_ context.Context, ownerID, id string, _ model.Mode) (*model.Item, error) {
	it, ok := m.items[id]
	if !ok || it.OwnerID != ownerID {
		return nil, model.NewItemNotFoundError(id)
	}
	cp := *it
	return &cp, nil
}

type mockPublisher struct {
	events []model.ChangeEvent
}

func (m *mockPublisher) Publish(_ context.Context, ev model.ChangeEvent) error {
	m.events = append(m.events, ev)
	return nil
}

type fixture struct {
	svc      *Service
	profiles *mockProfileRepo
	follows  *mockFollowRepo
	likes    *mockLikeRepo
	items    *mockItemReader
	pub      *mockPublisher
}

func newFixture() *fixture {
	f := &fixture{
		profiles: &mockProfileRepo{profiles: map[string]*model.Profile{
			"alice": {UserID: "alice", Nickname: "alice", IsPublic: true},
			"bob":   {UserID: "bob", Nickname: "bob", IsPublic: false},
		}},
		follows: &mockFollowRepo{follows: make(map[[2]string]bool)},
		likes:   &mockLikeRepo{likes: make(map[string]map[string]bool)},
		items: &mockItemReader{items: map[string]*model.Item{
			"a1": {ID: "a1", OwnerID: "alice", Title: "Dune"},
			"a2": {ID: "a2", OwnerID: "alice", Title: "Secret", IsHidden: true},
			"b1": {ID: "b1", OwnerID: "bob", Title: "Private"},
		}},
		pub: &mockPublisher{},
	}
	users := &mockUserRepo{users: map[string]*model.User{
		"carol": {ID: "carol", Email: "carol.smith@example.com"},
		"dave":  {ID: "dave", Email: "@example.com"},
	}}
	f.svc = NewService(users, f.profiles, f.follows, f.likes, f.items, f.pub)
	f.svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return f
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

// --- プロフィール ---

// TestService_GetOrCreateProfile は初回アクセスでメールアドレスのローカル部をニックネームとした非公開プロフィールが作成されることをテストする。
func TestService_GetOrCreateProfile(t *testing.T) {
	f := newFixture()

	p, err := f.svc.GetOrCreateProfile(context.Background(), "carol")
	if err != nil {
		t.Fatalf("GetOrCreateProfile returned error: %v", err)
	}
	if p.Nickname != "carol.smith" || p.IsPublic {
		t.Errorf("unexpected profile: %+v", p)
	}
	if _, ok := f.profiles.profiles["carol"]; !ok {
		t.Error("profile not persisted")
	}

	again, _ := f.svc.GetOrCreateProfile(context.Background(), "carol")
	if again.Nickname != "carol.smith" {
		t.Errorf("second call = %+v", again)
	}
}

// TestService_GetOrCreateProfile_Fallback はローカル部が空の場合に既定のニックネームが使われることをテストする。
func TestService_GetOrCreateProfile_Fallback(t *testing.T) {
	f := newFixture()
	p, err := f.svc.GetOrCreateProfile(context.Background(), "dave")
	if err != nil {
		t.Fatal(err)
	}
	if p.Nickname != DefaultNickname {
		t.Errorf("Nickname = %q, want %q", p.Nickname, DefaultNickname)
	}
}

// TestService_GetOrCreateProfile_UnknownUser は存在しないユーザーでUSER_NOT_FOUNDになることをテストする。
func TestService_GetOrCreateProfile_UnknownUser(t *testing.T) {
	f := newFixture()
	_, err := f.svc.GetOrCreateProfile(context.Background(), "nobody")
	assertCode(t, err, model.ErrCodeUserNotFound)
}

// TestService_UpdateNickname はトリムされたニックネームが保存され、空や変更なしは無視されることをテストする。
func TestService_UpdateNickname(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	p, err := f.svc.UpdateNickname(ctx, "alice", "  Alice W. ")
	if err != nil {
		t.Fatalf("UpdateNickname returned error: %v", err)
	}
	if p.Nickname != "Alice W." {
		t.Errorf("Nickname = %q", p.Nickname)
	}

	for _, nick := range []string{"", "   ", "Alice W."} {
		if _, err := f.svc.UpdateNickname(ctx, "alice", nick); err != nil {
			t.Fatal(err)
		}
	}
	if f.profiles.nicknameCalls != 1 {
		t.Errorf("store updated %d times, want 1", f.profiles.nicknameCalls)
	}
}

// TestService_SetPublic は公開設定が切り替わることをテストする。
func TestService_SetPublic(t *testing.T) {
	f := newFixture()
	p, err := f.svc.SetPublic(context.Background(), "bob", true)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsPublic || !f.profiles.profiles["bob"].IsPublic {
		t.Errorf("profile not public: %+v", p)
	}
}

// TestService_GetProfile は非公開プロフィールが本人以外に見えないことをテストする。
func TestService_GetProfile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.GetProfile(ctx, "alice", "bob")
	assertCode(t, err, model.ErrCodeProfilePrivate)

	own, err := f.svc.GetProfile(ctx, "bob", "bob")
	if err != nil || own.Profile.UserID != "bob" {
		t.Errorf("owner view = (%+v, %v)", own, err)
	}

	_ = f.svc.Follow(ctx, "bob", "alice")
	view, err := f.svc.GetProfile(ctx, "bob", "alice")
	if err != nil || !view.IsFollowing {
		t.Errorf("view = (%+v, %v), want following", view, err)
	}

	_, err = f.svc.GetProfile(ctx, "alice", "ghost")
	assertCode(t, err, model.ErrCodeProfileNotFound)
}

// TestService_SearchProfiles は空のクエリで空の結果を返し、重複を除いて返すことをテストする。
func TestService_SearchProfiles(t *testing.T) {
	f := newFixture()
	var gotLimit int
	f.profiles.searchFn = func(_ context.Context, query string, limit int) ([]model.Profile, error) {
		gotLimit = limit
		return []model.Profile{{UserID: "alice"}, {UserID: "alice"}, {UserID: "eve"}}, nil
	}
	ctx := context.Background()

	empty, err := f.svc.SearchProfiles(ctx, "   ")
	if err != nil || len(empty) != 0 {
		t.Errorf("empty query = (%v, %v)", empty, err)
	}

	got, err := f.svc.SearchProfiles(ctx, "Al")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d profiles, want 2 after dedup", len(got))
	}
	if gotLimit != SearchLimit {
		t.Errorf("limit = %d, want %d", gotLimit, SearchLimit)
	}
}

// --- フォロー ---

// TestService_Follow_Self は自分自身のフォローがSELF_FOLLOWで拒否されることをテストする。
func TestService_Follow_Self(t *testing.T) {
	f := newFixture()
	assertCode(t, f.svc.Follow(context.Background(), "alice", "alice"), model.ErrCodeSelfFollow)
	assertCode(t, f.svc.Unfollow(context.Background(), "alice", "alice"), model.ErrCodeSelfFollow)
}

// TestService_FollowUnfollow はフォローとフォロー解除が冪等に動作することをテストする。
func TestService_FollowUnfollow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.svc.Follow(ctx, "bob", "alice"); err != nil {
			t.Fatalf("Follow #%d: %v", i, err)
		}
	}
	ok, _ := f.svc.IsFollowing(ctx, "bob", "alice")
	if !ok {
		t.Error("expected following")
	}

	for i := 0; i < 2; i++ {
		if err := f.svc.Unfollow(ctx, "bob", "alice"); err != nil {
			t.Fatalf("Unfollow #%d: %v", i, err)
		}
	}
	ok, _ = f.svc.IsFollowing(ctx, "bob", "alice")
	if ok {
		t.Error("expected not following")
	}
	if len(f.pub.events) != 4 || f.pub.events[0].OwnerID != "alice" {
		t.Errorf("events = %+v", f.pub.events)
	}
}

// TestService_Follow_Private は非公開ユーザーのフォローが拒否されることをテストする。
func TestService_Follow_Private(t *testing.T) {
	f := newFixture()
	assertCode(t, f.svc.Follow(context.Background(), "alice", "bob"), model.ErrCodeProfilePrivate)
}

// TestService_ListFollowing は重複を除き、ニックネーム未設定を既定名で表示することをテストする。
func TestService_ListFollowing(t *testing.T) {
	f := newFixture()
	f.follows.listFn = func(context.Context, string) ([]model.FollowedProfile, error) {
		return []model.FollowedProfile{
			{UserID: "alice", Nickname: "alice"},
			{UserID: "alice", Nickname: "alice"},
			{UserID: "zed", Nickname: ""},
		}, nil
	}

	got, err := f.svc.ListFollowing(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
	if got[1].Nickname != UnnamedNickname {
		t.Errorf("Nickname = %q, want %q", got[1].Nickname, UnnamedNickname)
	}
}

// --- 公開アイテム・いいね ---

// TestService_PublicItems は非表示・アーカイブ済みが除かれることをテストする。
func TestService_PublicItems(t *testing.T) {
	f := newFixture()
	f.items.listFn = func(_ context.Context, viewerID, ownerID string, _ model.Mode) ([]model.Item, error) {
		return []model.Item{
			{ID: "1", OwnerID: ownerID, Title: "Visible", LikesCount: 3},
			{ID: "2", OwnerID: ownerID, Title: "Hidden", IsHidden: true},
			{ID: "3", OwnerID: ownerID, Title: "Archived", IsArchived: true},
		}, nil
	}

	got, err := f.svc.PublicItems(context.Background(), "bob", "alice", model.ModeCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "Visible" || got[0].LikesCount != 3 {
		t.Errorf("got %+v", got)
	}

	_, err = f.svc.PublicItems(context.Background(), "alice", "bob", model.ModeCompleted)
	assertCode(t, err, model.ErrCodeProfilePrivate)
}

// TestService_ToggleLike はいいねの設定と解除で集計状態が更新されることをテストする。
func TestService_ToggleLike(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	state, err := f.svc.ToggleLike(ctx, "bob", "alice", model.ModeCompleted, "a1", true)
	if err != nil {
		t.Fatalf("ToggleLike returned error: %v", err)
	}
	if state.LikesCount != 1 || !state.LikedByMe {
		t.Errorf("state = %+v", state)
	}
	state, _ = f.svc.ToggleLike(ctx, "bob", "alice", model.ModeCompleted, "a1", true)
	if state.LikesCount != 1 {
		t.Errorf("liking twice should be idempotent, count = %d", state.LikesCount)
	}

	state, err = f.svc.ToggleLike(ctx, "bob", "alice", model.ModeCompleted, "a1", false)
	if err != nil {
		t.Fatal(err)
	}
	if state.LikesCount != 0 || state.LikedByMe {
		t.Errorf("state = %+v", state)
	}
	if f.pub.events[0].Table != "likes" || f.pub.events[0].OwnerID != "alice" {
		t.Errorf("events = %+v", f.pub.events)
	}
}

// TestService_ToggleLike_NotAllowed は自分・非公開・非表示のアイテムへのいいねが拒否されることをテストする。
func TestService_ToggleLike_NotAllowed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.ToggleLike(ctx, "alice", "alice", model.ModeCompleted, "a1", true)
	assertCode(t, err, model.ErrCodeLikeNotAllowed)

	_, err = f.svc.ToggleLike(ctx, "alice", "bob", model.ModeCompleted, "b1", true)
	assertCode(t, err, model.ErrCodeProfilePrivate)

	_, err = f.svc.ToggleLike(ctx, "bob", "alice", model.ModeCompleted, "a2", true)
	assertCode(t, err, model.ErrCodeLikeNotAllowed)

	_, err = f.svc.ToggleLike(ctx, "bob", "alice", model.ModeCompleted, "missing", true)
	assertCode(t, err, model.ErrCodeItemNotFound)

	if len(f.likes.likes) != 0 {
		t.Errorf("likes changed: %+v", f.likes.likes)
	}
}

// TestNicknameFromEmail はメールアドレスからの初期ニックネームを検証する。
func TestNicknameFromEmail(t *testing.T) {
	tests := map[string]string{
		"user@example.com": "user",
		"no-at-sign":       "no-at-sign",
		"@example.com":     DefaultNickname,
		"":                 DefaultNickname,
	}
	for in, want := range tests {
		if got := NicknameFromEmail(in); got != want {
			t.Errorf("NicknameFromEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
