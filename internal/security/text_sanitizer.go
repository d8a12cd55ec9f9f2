// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はレシピのテキスト項目からHTMLマークアップを取り除く。
// 保存する値はプレーンテキストとし、表示側で改めてエスケープする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	// Sanitize は全てのタグを除去し、前後の空白を取り除いた文字列を返す。
	// scriptとstyleは中身ごと除去する。
	Sanitize(s string) string
}

// textSanitizer はbluemondayのStrictPolicyによる実装。
// bluemondayのPolicyは生成後は並行利用できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はマークアップを除去する。
// StrictPolicyはテキストをHTMLエスケープして返すため、保存前に元の文字へ戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
