package security

import (
	"strings"
	"testing"
)

// TestSanitizeText はタグ除去とエンティティの扱いを検証する。
func TestSanitizeText(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンテキストはそのまま", input: "Ann Lee", want: "Ann Lee"},
		{name: "前後の空白を除去", input: "  Ann  ", want: "Ann"},
		{name: "アポストロフィを保持", input: "O'Brien", want: "O'Brien"},
		{name: "アンパサンドを保持", input: "Tom & Jerry", want: "Tom & Jerry"},
		{name: "不等号を保持", input: "a < b", want: "a < b"},
		{name: "太字タグを除去", input: "<b>bold</b> text", want: "bold text"},
		{name: "scriptタグを内容ごと除去", input: "hi<script>alert(1)</script>", want: "hi"},
		{name: "イベント属性を除去", input: `<img src=x onerror="alert(1)">note`, want: "note"},
		{name: "エスケープされたタグも除去", input: "&lt;b&gt;x&lt;/b&gt;", want: "x"},
		{name: "空文字列", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.SanitizeText(tt.input); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeText_Idempotent は同一入力に対して同一出力を返し、再適用しても変わらないことを検証する。
func TestSanitizeText_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()
	inputs := []string{
		"<p>メモ</p><a href=\"javascript:alert(1)\">link</a>",
		"Tom & Jerry <i>show</i>",
		"plain",
	}
	for _, in := range inputs {
		once := sanitizer.SanitizeText(in)
		twice := sanitizer.SanitizeText(once)
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
		if strings.Contains(once, "<") && strings.Contains(once, ">") {
			t.Errorf("markup survived: %q", once)
		}
	}
}
