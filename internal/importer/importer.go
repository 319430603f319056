// Package importer はRSS/Atomフィードのエントリを予定アイテムとして取り込む。
// URLがHTMLページの場合はhead内のフィードリンクを自動検出する。
package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ratioglobus/my-world/internal/metrics"
	"github.com/ratioglobus/my-world/internal/model"
	"github.com/ratioglobus/my-world/internal/security"
)

const userAgent = "MyWorld/1.0 (+feed import)"

// ItemStore は予定アイテムの取得と追加を行うインターフェース。
// item.Serviceが実装する。
type ItemStore interface {
	List(ctx context.Context, viewerID, ownerID string, mode model.Mode) ([]model.Item, error)
	Add(ctx context.Context, ownerID string, draft model.ItemDraft, mode model.Mode) (*model.Item, error)
}

// Config は取り込みの制限値。
type Config struct {
	Timeout  time.Duration // 1回のHTTPリクエストのタイムアウト
	MaxSize  int64         // レスポンスボディの最大バイト数
	MaxItems int           // 1回の取り込みで追加する最大件数
}

// Result は取り込み結果。
type Result struct {
	FeedURL   string
	FeedTitle string
	Imported  []model.Item
	Skipped   int // 既に取り込み済みのエントリ数
}

// Importer はフィードから予定アイテムを取り込む。
type Importer struct {
	guard   security.URLGuard
	items   ItemStore
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	cfg     Config
}

// New はImporterを生成する。
func New(guard security.URLGuard, items ItemStore, mc metrics.MetricsCollector, logger *slog.Logger, cfg Config) *Importer {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 5 * 1024 * 1024
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 50
	}
	return &Importer{guard: guard, items: items, metrics: mc, logger: logger, cfg: cfg}
}

// Import はURLのフィードを取得し、未取り込みのエントリを予定アイテムとして追加する。
// エントリのリンクが既存の予定アイテムのコメントと一致する場合はスキップする。
func (im *Importer) Import(ctx context.Context, ownerID, rawURL string) (*Result, error) {
	start := time.Now()

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, model.NewInvalidURLError("URLが入力されていません")
	}
	if err := im.guard.ValidateURL(rawURL); err != nil {
		im.logger.Warn("import url rejected",
			slog.String("user_id", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewSSRFBlockedError()
	}

	src, body, err := im.resolveFeed(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		im.logger.Info("feed parse failed",
			slog.String("feed_url", src.URL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseFailedError()
	}

	existing, err := im.items.List(ctx, ownerID, ownerID, model.ModePlanned)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, it := range existing {
		if it.Comment != "" {
			known[it.Comment] = true
		}
	}

	res := &Result{FeedURL: src.URL, FeedTitle: parsed.Title, Imported: []model.Item{}}
	for _, entry := range ConvertEntries(parsed.Items) {
		if len(res.Imported) >= im.cfg.MaxItems {
			break
		}
		if known[entry.Link] {
			res.Skipped++
			continue
		}
		created, err := im.items.Add(ctx, ownerID, model.ItemDraft{
			Title:    entry.Title,
			Category: src.Category,
			Priority: model.PriorityNormal,
			Comment:  entry.Link,
		}, model.ModePlanned)
		if err != nil {
			return nil, fmt.Errorf("取り込んだアイテムの追加に失敗: %w", err)
		}
		known[entry.Link] = true
		res.Imported = append(res.Imported, *created)
	}

	duration := time.Since(start)
	im.metrics.RecordImport(len(res.Imported), duration)
	im.logger.Info("feed import completed",
		slog.String("user_id", ownerID),
		slog.String("feed_url", src.URL),
		slog.String("category", string(src.Category)),
		slog.Int("imported", len(res.Imported)),
		slog.Int("skipped", res.Skipped),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return res, nil
}

// resolveFeed はURLを取得し、フィードであればそのボディを返す。
// HTMLの場合はhead内のフィードリンクから取り込み元を選んでもう一度取得する。
func (im *Importer) resolveFeed(ctx context.Context, rawURL string) (Source, []byte, error) {
	contentType, body, err := im.fetch(ctx, rawURL)
	if err != nil {
		return Source{}, nil, err
	}
	if looksLikeFeed(contentType, body) {
		return sourceFromURL(rawURL), body, nil
	}

	if !strings.Contains(mediaType(contentType), "html") {
		return Source{}, nil, model.NewFeedNotDetectedError(rawURL)
	}
	src, ok := pickSource(feedLinks(body, rawURL), rawURL)
	if !ok {
		return Source{}, nil, model.NewFeedNotDetectedError(rawURL)
	}
	if err := im.guard.ValidateURL(src.URL); err != nil {
		return Source{}, nil, model.NewSSRFBlockedError()
	}

	_, body, err = im.fetch(ctx, src.URL)
	if err != nil {
		return Source{}, nil, err
	}
	return src, body, nil
}

func (im *Importer) fetch(ctx context.Context, target string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*")

	client := im.guard.NewSafeClient(im.cfg.Timeout, im.cfg.MaxSize)
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, im.cfg.MaxSize))
	if err != nil {
		return "", nil, model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}
	return resp.Header.Get("Content-Type"), body, nil
}

// ConvertEntries はgofeedのエントリをFeedEntryに変換する。
// タイトルが空のエントリはリンクをタイトルとし、両方空のものは除く。
func ConvertEntries(items []*gofeed.Item) []model.FeedEntry {
	entries := make([]model.FeedEntry, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}

		link := strings.TrimSpace(it.Link)
		if link == "" && (strings.HasPrefix(it.GUID, "http://") || strings.HasPrefix(it.GUID, "https://")) {
			link = it.GUID
		}
		title := strings.TrimSpace(it.Title)
		if title == "" {
			title = link
		}
		if title == "" {
			continue
		}

		entry := model.FeedEntry{Title: title, Link: link}
		if it.PublishedParsed != nil {
			t := *it.PublishedParsed
			entry.PublishedAt = &t
		} else if it.UpdatedParsed != nil {
			t := *it.UpdatedParsed
			entry.PublishedAt = &t
		}
		entries = append(entries, entry)
	}
	return entries
}
