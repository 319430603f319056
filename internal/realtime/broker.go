// Package realtime はテーブル変更通知の配信を提供する。
// 通知はキャッシュ無効化のシグナルであり、受信側は全件を再取得する。
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ratioglobus/my-world/internal/model"
)

// subscriberBuffer は購読者ごとのチャネルバッファ長。
// 溢れた場合は古い通知を再同期の通知に置き換える。
const subscriberBuffer = 16

// Publisher は変更通知を発行するインターフェース。
type Publisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
}

// Broker は変更通知の発行と購読を提供するインターフェース。
type Broker interface {
	Publisher
	// Subscribe は指定ユーザー宛ての通知を購読する。返された関数で購読を解除する。
	Subscribe(ctx context.Context, ownerID string) (<-chan model.ChangeEvent, func(), error)
	// SubscribeAll は全ユーザー宛ての通知を購読する。
	SubscribeAll(ctx context.Context) (<-chan model.ChangeEvent, func(), error)
	Close() error
}

// MemoryBroker はプロセス内で完結するBroker実装。
// 単一インスタンス構成やテストで使用する。
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan model.ChangeEvent]struct{}
	all    map[chan model.ChangeEvent]struct{}
	closed bool
	logger *slog.Logger
}

// NewMemoryBroker はMemoryBrokerを生成する。
func NewMemoryBroker(logger *slog.Logger) *MemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBroker{
		subs:   make(map[string]map[chan model.ChangeEvent]struct{}),
		all:    make(map[chan model.ChangeEvent]struct{}),
		logger: logger,
	}
}

// Publish は購読者に通知を配信する。受信が追いつかない購読者には再同期の通知を送る。
func (b *MemoryBroker) Publish(_ context.Context, ev model.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	for ch := range b.subs[ev.OwnerID] {
		b.deliver(ch, ev, ev.OwnerID)
	}
	for ch := range b.all {
		b.deliver(ch, ev, "")
	}
	return nil
}

func (b *MemoryBroker) deliver(ch chan model.ChangeEvent, ev model.ChangeEvent, scope string) {
	if !enqueue(ch, ev, scope) {
		b.logger.Warn("realtime subscriber is slow, resync queued",
			slog.String("table", ev.Table),
			slog.String("owner_id", ev.OwnerID),
		)
	}
}

// enqueue は通知をチャネルに入れる。バッファが溢れていれば古い通知を捨てて
// scopeを対象とする再同期の通知を入れ、falseを返す。scopeが空なら全ユーザーが対象。
func enqueue(ch chan model.ChangeEvent, ev model.ChangeEvent, scope string) bool {
	select {
	case ch <- ev:
		return true
	default:
	}

	resync := model.ChangeEvent{OwnerID: scope, Op: model.ChangeResync, At: ev.At}
	for {
		select {
		case ch <- resync:
			return false
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe は指定ユーザー宛ての通知を購読する。
func (b *MemoryBroker) Subscribe(_ context.Context, ownerID string) (<-chan model.ChangeEvent, func(), error) {
	ch := make(chan model.ChangeEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subs[ownerID] == nil {
		b.subs[ownerID] = make(map[chan model.ChangeEvent]struct{})
	}
	b.subs[ownerID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ownerID][ch]; ok {
				delete(b.subs[ownerID], ch)
				if len(b.subs[ownerID]) == 0 {
					delete(b.subs, ownerID)
				}
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// SubscribeAll は全ユーザー宛ての通知を購読する。
func (b *MemoryBroker) SubscribeAll(_ context.Context) (<-chan model.ChangeEvent, func(), error) {
	ch := make(chan model.ChangeEvent, subscriberBuffer*4)

	b.mu.Lock()
	b.all[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.all[ch]; ok {
				delete(b.all, ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// Close は全ての購読を終了する。
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for owner, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, owner)
	}
	for ch := range b.all {
		close(ch)
		delete(b.all, ch)
	}
	return nil
}

// Listen は全ユーザー宛ての通知を購読し、受信ごとにfnを呼び出す。
// ctxがキャンセルされるか購読が終了するまでブロックする。
func Listen(ctx context.Context, b Broker, fn func(model.ChangeEvent)) error {
	ch, cancel, err := b.SubscribeAll(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			fn(ev)
		}
	}
}

// Notify は変更通知を発行する。
// 通知の元になった変更は確定済みのため、発行の失敗はログに残すのみとする。
func Notify(ctx context.Context, p Publisher, ev model.ChangeEvent) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish change event",
			slog.String("table", ev.Table),
			slog.String("row_id", ev.RowID),
			slog.String("error", err.Error()),
		)
	}
}

var _ Broker = (*MemoryBroker)(nil)
