// Package quote は名言ウィジェット用の引用カタログを提供する。
package quote

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ratioglobus/my-world/internal/model"
)

//go:embed quotes.yaml
var defaultCatalog []byte

// Catalog は引用の一覧。読み込み後は変更しないため並行に参照できる。
type Catalog struct {
	quotes []model.Quote
	intn   func(n int) int
}

// Load はYAMLの引用一覧を読み込む。本文が空の引用は除く。
// 有効な引用が1件もない場合はエラーを返す。
func Load(data []byte) (*Catalog, error) {
	var raw []model.Quote
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("引用カタログの解析に失敗: %w", err)
	}

	quotes := make([]model.Quote, 0, len(raw))
	for _, q := range raw {
		q.Text = strings.TrimSpace(q.Text)
		q.Author = strings.TrimSpace(q.Author)
		if q.Text == "" {
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("引用カタログが空です")
	}
	return &Catalog{quotes: quotes, intn: rand.IntN}, nil
}

// Default は組み込みの引用カタログを返す。
func Default() (*Catalog, error) {
	return Load(defaultCatalog)
}

// Random は引用を1件ランダムに返す。
func (c *Catalog) Random() model.Quote {
	return c.quotes[c.intn(len(c.quotes))]
}

// Len は引用の件数を返す。
func (c *Catalog) Len() int {
	return len(c.quotes)
}
