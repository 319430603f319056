package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// CommentRenderer はアイテムのコメント（プレーンテキスト）を表示用HTMLに変換する。
type CommentRenderer interface {
	// Render はテキストをエスケープし、http/httpsのURLをリンクに、改行を<br>に変換する。
	// 空文字列の入力には空文字列を返す。
	Render(comment string) string
}

// urlPattern はコメント中のURLを検出する。末尾の句読点と閉じ括弧は含めない。
var urlPattern = regexp.MustCompile(`https?://[^\s<>"'）」】、。]+[^\s<>"'）」】、。.,;:!?)\]]`)

// commentRenderer はCommentRendererの実装。
// bluemondayのポリシーを保持し、スレッドセーフに変換処理を行う。
type commentRenderer struct {
	policy *bluemonday.Policy
}

// NewCommentRenderer はCommentRendererを生成する。
// 出力に残るのはhref付きのaタグとbrタグのみ。
// aタグにはtarget="_blank"とrel="nofollow noreferrer noopener"が付与される。
func NewCommentRenderer() CommentRenderer {
	p := bluemonday.NewPolicy()
	p.AllowElements("br")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.RequireNoFollowOnLinks(true)

	return &commentRenderer{policy: p}
}

func (r *commentRenderer) Render(comment string) string {
	if comment == "" {
		return ""
	}

	var b strings.Builder
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(comment, -1) {
		b.WriteString(html.EscapeString(comment[last:loc[0]]))
		link := html.EscapeString(comment[loc[0]:loc[1]])
		b.WriteString(`<a href="` + link + `">` + link + `</a>`)
		last = loc[1]
	}
	b.WriteString(html.EscapeString(comment[last:]))

	out := strings.ReplaceAll(b.String(), "\r\n", "\n")
	out = strings.ReplaceAll(out, "\n", "<br>")
	return r.policy.Sanitize(out)
}
