package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ratioglobus/my-world/internal/model"
)

// channelPrefix はユーザーごとの通知チャネル名の接頭辞。
const channelPrefix = "myworld:changes:"

// ChannelFor はユーザー宛ての通知チャネル名を返す。
func ChannelFor(ownerID string) string {
	return channelPrefix + ownerID
}

// ConnectOptions はRedis接続と再試行の設定。
type ConnectOptions struct {
	URL            string        // 例: "redis://localhost:6379/0"
	ConnectTimeout time.Duration // 接続試行全体の制限時間
	RetryInterval  time.Duration // 初回の再試行間隔（指数的に増加）
	MaxWait        time.Duration // 再試行間隔の上限
	PingTimeout    time.Duration // 1回のPINGの制限時間
}

// Connect はRedisクライアントを生成し、疎通確認が取れるまで指数バックオフで再試行する。
func Connect(ctx context.Context, opts ConnectOptions, logger *slog.Logger) (*redis.Client, error) {
	if opts.ConnectTimeout <= 0 || opts.RetryInterval <= 0 || opts.MaxWait <= 0 || opts.PingTimeout <= 0 {
		return nil, fmt.Errorf("invalid redis connect options: %+v", opts)
	}
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	wait := opts.RetryInterval
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err == nil {
			logger.Info("connected to redis",
				slog.String("addr", redisOpts.Addr),
				slog.Int("attempts", attempt),
			)
			return client, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			client.Close()
			return nil, fmt.Errorf("redis unavailable at %s after %d attempts: %w", redisOpts.Addr, attempt, err)
		case <-timer.C:
			logger.Warn("redis connection failed, retrying",
				slog.String("addr", redisOpts.Addr),
				slog.Int("attempt", attempt),
				slog.Duration("next_retry_in", wait),
				slog.String("error", err.Error()),
			)
			wait *= 2
			if wait > opts.MaxWait {
				wait = opts.MaxWait
			}
		}
	}
}

// RedisBroker はRedis Pub/Subを使用したBroker実装。
// 複数インスタンス構成で全インスタンスに通知を行き渡らせる。
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBroker はRedisBrokerを生成する。
func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{client: client, logger: logger}
}

// Publish は通知をJSONとしてユーザーのチャネルに発行する。
func (b *RedisBroker) Publish(ctx context.Context, ev model.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	if err := b.client.Publish(ctx, ChannelFor(ev.OwnerID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Subscribe は指定ユーザーのチャネルを購読する。
func (b *RedisBroker) Subscribe(ctx context.Context, ownerID string) (<-chan model.ChangeEvent, func(), error) {
	return b.start(ctx, b.client.Subscribe(ctx, ChannelFor(ownerID)), subscriberBuffer, ownerID)
}

// SubscribeAll は全ユーザーのチャネルをパターン購読する。
func (b *RedisBroker) SubscribeAll(ctx context.Context) (<-chan model.ChangeEvent, func(), error) {
	return b.start(ctx, b.client.PSubscribe(ctx, channelPrefix+"*"), subscriberBuffer*4, "")
}

// start は購読の確立を待ち、受信メッセージをデコードしてチャネルに流すゴルーチンを起動する。
// scopeは受信が追いつかない場合に送る再同期の対象ユーザー。
func (b *RedisBroker) start(ctx context.Context, ps *redis.PubSub, buffer int, scope string) (<-chan model.ChangeEvent, func(), error) {
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan model.ChangeEvent, buffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("invalid change event payload",
						slog.String("channel", msg.Channel),
						slog.String("error", err.Error()),
					)
					continue
				}
				if !enqueue(out, ev, scope) {
					b.logger.Warn("realtime subscriber is slow, resync queued",
						slog.String("table", ev.Table),
						slog.String("owner_id", ev.OwnerID),
					)
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			ps.Close()
		})
	}
	return out, cancel, nil
}

// Close はRedisクライアントを閉じる。
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

var _ Broker = (*RedisBroker)(nil)
