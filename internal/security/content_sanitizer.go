// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は連絡先の自由入力欄（氏名、備考、電話番号ラベル）から
// HTMLを取り除き、プレーンテキストのみを保存させる。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses はエスケープされたタグを含む入力に対する再適用の上限。
const maxSanitizePasses = 3

// TextSanitizer はプレーンテキスト化のインターフェースを定義する。
type TextSanitizer interface {
	// SanitizeText は全てのHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	// エンティティはデコードされた文字として返す（"O&#39;Brien" ではなく "O'Brien"）。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフに処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はHTMLタグを除去したプレーンテキストを返す。
// "&lt;b&gt;" のようにエスケープされたタグもデコード後に再度除去する。
func (s *textSanitizer) SanitizeText(raw string) string {
	text := strings.TrimSpace(raw)
	for i := 0; i < maxSanitizePasses; i++ {
		cleaned := html.UnescapeString(s.policy.Sanitize(text))
		if cleaned == text {
			break
		}
		text = cleaned
	}
	return strings.TrimSpace(text)
}
