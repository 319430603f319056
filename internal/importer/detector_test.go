package importer

import (
	"testing"

	"github.com/ratioglobus/my-world/internal/model"
)

// TestLooksLikeFeed はContent-Typeとルート要素からフィード本体を判定できることをテストする。
func TestLooksLikeFeed(t *testing.T) {
	rss := []byte(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Reading</title></channel></rss>`)
	latin1 := []byte(`<?xml version="1.0" encoding="ISO-8859-1"?><rss version="2.0"><channel></channel></rss>`)
	atomFeed := []byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"><title>Talks</title></feed>`)
	rdf := []byte(`<?xml version="1.0"?><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"></rdf:RDF>`)
	bareFeed := []byte(`<feed><title>not atom</title></feed>`)
	xhtml := []byte(`<?xml version="1.0"?><html><head><title>page</title></head></html>`)
	commentedRSS := []byte(`<?xml version="1.0"?><!-- generated --><rss version="2.0"></rss>`)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        bool
	}{
		{"rss media type", "application/rss+xml", nil, true},
		{"atom media type with charset", "application/atom+xml; charset=utf-8", nil, true},
		{"rdf media type", "application/rdf+xml", nil, true},
		{"upper-case media type", "Application/RSS+XML", nil, true},
		{"text/xml rss root", "text/xml", rss, true},
		{"text/xml non-utf8 declaration", "text/xml", latin1, true},
		{"application/xml atom root", "application/xml", atomFeed, true},
		{"application/xml rdf root", "application/xml", rdf, true},
		{"comment before root", "text/xml", commentedRSS, true},
		{"feed root without atom namespace", "text/xml", bareFeed, false},
		{"xhtml root", "text/xml", xhtml, false},
		{"empty xml body", "text/xml", nil, false},
		{"html media type", "text/html", rss, false},
		{"json", "application/json", []byte(`{}`), false},
		{"broken content type", ";;;", rss, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeFeed(tt.contentType, tt.body); got != tt.want {
				t.Errorf("looksLikeFeed(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

// TestFeedLinks はhead内のフィードリンクだけをSourceとして集めることをテストする。
func TestFeedLinks(t *testing.T) {
	page := `<!doctype html><html><head>
		<link rel="stylesheet" href="/style.css">
		<link rel="alternate" type="application/rss+xml" title=" Posts " href="/feed.xml">
		<link rel="alternate" type="application/atom+xml" href="https://www.youtube.com/feeds/videos.xml?channel_id=abc">
		<link rel="alternate" hreflang="en" href="/en/">
		<link rel="Alternate Feed" type="application/rss+xml; charset=utf-8" href="extra.xml">
		<link rel="alternate" type="application/rss+xml" href="javascript:alert(1)">
		<link rel="alternate" type="application/rss+xml" href="">
	</head><body>
		<link rel="alternate" type="application/rss+xml" href="/body.xml">
	</body></html>`

	got := feedLinks([]byte(page), "https://blog.example.com/posts/")

	want := []Source{
		{URL: "https://blog.example.com/feed.xml", Title: "Posts", Category: model.CategoryIdea},
		{URL: "https://www.youtube.com/feeds/videos.xml?channel_id=abc", Atom: true, Category: model.CategoryYouTube},
		{URL: "https://blog.example.com/posts/extra.xml", Category: model.CategoryIdea},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d sources, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("source[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestFeedLinks_NoFeeds はフィードリンクがない場合や不正なページURLで空を返すことをテストする。
func TestFeedLinks_NoFeeds(t *testing.T) {
	if got := feedLinks([]byte(`<html><head><title>x</title></head></html>`), "https://example.com"); len(got) != 0 {
		t.Errorf("expected no sources, got %+v", got)
	}
	if got := feedLinks([]byte(`<html></html>`), "://bad"); got != nil {
		t.Errorf("expected nil for invalid page url, got %+v", got)
	}
}

// TestPickSource は取り込み元の優先順位をテストする。
func TestPickSource(t *testing.T) {
	rss := func(u string) Source { return sourceFromURL(u) }
	atomSrc := func(u string) Source { s := sourceFromURL(u); s.Atom = true; return s }

	tests := []struct {
		name    string
		page    string
		cands   []Source
		wantURL string
	}{
		{
			name:    "same site wins over atom elsewhere",
			page:    "https://blog.example.com/",
			cands:   []Source{atomSrc("https://feeds.other.com/atom"), rss("https://blog.example.com/rss")},
			wantURL: "https://blog.example.com/rss",
		},
		{
			name:    "www prefix counts as same site",
			page:    "https://www.example.com/",
			cands:   []Source{rss("https://cdn.net/feed"), rss("https://example.com/feed")},
			wantURL: "https://example.com/feed",
		},
		{
			name:    "atom preferred among equals",
			page:    "https://example.com/",
			cands:   []Source{rss("https://example.com/rss"), atomSrc("https://example.com/atom")},
			wantURL: "https://example.com/atom",
		},
		{
			name: "comment feed avoided",
			page: "https://example.com/",
			cands: []Source{
				{URL: "https://example.com/comments/feed", Atom: true, Category: model.CategoryIdea},
				{URL: "https://example.com/feed", Category: model.CategoryIdea},
			},
			wantURL: "https://example.com/feed",
		},
		{
			name: "comment feed detected by title",
			page: "https://example.com/",
			cands: []Source{
				{URL: "https://example.com/a", Title: "コメント", Category: model.CategoryIdea},
				{URL: "https://example.com/b", Category: model.CategoryIdea},
			},
			wantURL: "https://example.com/b",
		},
		{
			name:    "youtube page prefers youtube feed",
			page:    "https://m.youtube.com/@talks",
			cands:   []Source{rss("https://blog.talks.dev/feed"), rss("https://www.youtube.com/feeds/videos.xml?channel_id=abc")},
			wantURL: "https://www.youtube.com/feeds/videos.xml?channel_id=abc",
		},
		{
			name:    "first on tie",
			page:    "https://example.com/",
			cands:   []Source{rss("https://example.com/one"), rss("https://example.com/two")},
			wantURL: "https://example.com/one",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickSource(tt.cands, tt.page)
			if !ok {
				t.Fatal("expected a source")
			}
			if got.URL != tt.wantURL {
				t.Errorf("picked %s, want %s", got.URL, tt.wantURL)
			}
		})
	}
}

// TestPickSource_Empty は候補がない場合にfalseを返すことをテストする。
func TestPickSource_Empty(t *testing.T) {
	if _, ok := pickSource(nil, "https://example.com"); ok {
		t.Error("expected no source")
	}
}
