package importer

import (
	"bytes"
	"encoding/xml"
	"io"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ratioglobus/my-world/internal/model"
)

const atomNamespace = "http://www.w3.org/2005/Atom"

// Source は取り込み元として選ばれたフィード。
type Source struct {
	URL      string
	Title    string
	Atom     bool
	Category model.Category // 取り込むアイテムの種別
}

func sourceFromURL(feedURL string) Source {
	return Source{URL: feedURL, Category: CategoryFor(feedURL)}
}

// looksLikeFeed はレスポンスがフィード本体かどうかを返す。
// RSS/AtomのContent-Typeはそのまま受け入れ、汎用XMLはルート要素で判定する。
func looksLikeFeed(contentType string, body []byte) bool {
	switch mediaType(contentType) {
	case "application/rss+xml", "application/atom+xml", "application/rdf+xml":
		return true
	case "text/xml", "application/xml":
		return hasFeedRoot(body)
	}
	return false
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// hasFeedRoot はXMLのルート要素がrss、rdf:RDF、Atomのfeedのいずれかかを返す。
func hasFeedRoot(body []byte) bool {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	// ルート要素の名前だけを見るので文字コードは変換しない
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch strings.ToLower(start.Name.Local) {
		case "rss", "rdf":
			return true
		case "feed":
			return start.Name.Space == atomNamespace
		default:
			return false
		}
	}
}

// feedLinks はHTMLのhead内の<link rel="alternate">からフィードを集める。
// 相対URLはページのURLを基準に解決する。
func feedLinks(page []byte, pageURL string) []Source {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	head := findElement(doc, atom.Head)
	if head == nil {
		return nil
	}

	var sources []Source
	for n := head.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != html.ElementNode || n.DataAtom != atom.Link {
			continue
		}
		if src, ok := linkSource(n, base); ok {
			sources = append(sources, src)
		}
	}
	return sources
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// linkSource は<link>要素がフィードを指していればSourceに変換する。
func linkSource(n *html.Node, base *url.URL) (Source, bool) {
	var rel, typ, href, title string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "rel":
			rel = strings.ToLower(a.Val)
		case "type":
			typ = a.Val
		case "href":
			href = strings.TrimSpace(a.Val)
		case "title":
			title = strings.TrimSpace(a.Val)
		}
	}
	if href == "" || !containsToken(rel, "alternate") {
		return Source{}, false
	}

	var isAtom bool
	switch mediaType(typ) {
	case "application/rss+xml":
	case "application/atom+xml":
		isAtom = true
	default:
		return Source{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return Source{}, false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return Source{}, false
	}
	return Source{
		URL:      resolved.String(),
		Title:    title,
		Atom:     isAtom,
		Category: CategoryFor(resolved.String()),
	}, true
}

func containsToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

// pickSource はページで見つかった候補から取り込み元を1件選ぶ。
// 優先順位: ページと同じサイト > ページと同じ種別 > Atom。コメントフィードは避ける。
// 同点の場合は先に現れた候補を選ぶ。
func pickSource(candidates []Source, pageURL string) (Source, bool) {
	if len(candidates) == 0 {
		return Source{}, false
	}

	site := siteOf(pageURL)
	category := CategoryFor(pageURL)
	score := func(s Source) int {
		n := 0
		if siteOf(s.URL) == site {
			n += 100
		}
		if s.Category == category {
			n += 20
		}
		if isCommentFeed(s) {
			n -= 50
		}
		if s.Atom {
			n += 10
		}
		return n
	}

	best, bestScore := 0, score(candidates[0])
	for i := 1; i < len(candidates); i++ {
		if sc := score(candidates[i]); sc > bestScore {
			best, bestScore = i, sc
		}
	}
	return candidates[best], true
}

// isCommentFeed はブログのコメント欄など、予定アイテムにならないエントリのフィードかを返す。
func isCommentFeed(s Source) bool {
	title := strings.ToLower(s.Title)
	if strings.Contains(title, "comment") || strings.Contains(title, "コメント") {
		return true
	}
	u, err := url.Parse(s.URL)
	return err == nil && strings.Contains(strings.ToLower(u.Path), "comment")
}

// siteOf はURLのホスト名をwww.を除いて小文字で返す。
func siteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// CategoryFor はフィードURLのホストから取り込むアイテムの種別を決める。
// YouTubeのホストはYouTube、それ以外はIdea。
func CategoryFor(feedURL string) model.Category {
	u, err := url.Parse(feedURL)
	if err != nil {
		return model.CategoryIdea
	}
	host := strings.ToLower(u.Hostname())
	if host == "youtube.com" || strings.HasSuffix(host, ".youtube.com") || host == "youtu.be" {
		return model.CategoryYouTube
	}
	return model.CategoryIdea
}
