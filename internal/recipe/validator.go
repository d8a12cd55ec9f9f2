// Package recipe はレシピの検証と作成・一覧・更新・削除のビジネスロジックを提供する。
package recipe

import (
	"bytes"
	"encoding/json"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/security"
)

// maxPublishSeconds は受け付ける公開日時の上限（9999-12-31T23:59:59Z）。
const maxPublishSeconds = 253402300799

// Candidate は検証前のレシピ入力。
// 型が違うフィールドもデコードエラーにせず、検証で不正として報告するため生のJSONで保持する。
// 7フィールド以外の入力はデコードされない。
type Candidate struct {
	Name        json.RawMessage `json:"name"`
	Category    json.RawMessage `json:"category"`
	Directions  json.RawMessage `json:"directions"`
	Ingredients json.RawMessage `json:"ingredients"`
	IsPublished json.RawMessage `json:"isPublished"`
	PublishDate json.RawMessage `json:"publishDate"`
	ImageURL    json.RawMessage `json:"imageUrl"`
}

// ValidationError は不足・不正なフィールドの一覧を保持する。
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "Recipe is not valid. Missing/invalid fields: " + strings.Join(e.Fields, ", ")
}

// Validator はCandidateの検証と正規化を行う。
type Validator struct {
	sanitizer security.TextSanitizer
}

// NewValidator はValidatorを生成する。
func NewValidator(sanitizer security.TextSanitizer) *Validator {
	return &Validator{sanitizer: sanitizer}
}

// Check は不足・不正なフィールド名を検出順に返す。問題がなければ空。
// candidateがnilの場合は"recipe"のみを返す。
func Check(c *Candidate) []string {
	if c == nil {
		return []string{"recipe"}
	}

	var fields []string
	if _, ok := nonBlankString(c.Name); !ok {
		fields = append(fields, "name")
	}
	if _, ok := nonBlankString(c.Directions); !ok {
		fields = append(fields, "directions")
	}
	if s, ok := nonBlankString(c.Category); !ok || !model.Category(s).Valid() {
		fields = append(fields, "category")
	}
	if _, ok := exactBool(c.IsPublished); !ok {
		fields = append(fields, "isPublished")
	}
	if _, ok := publishSeconds(c.PublishDate); !ok {
		fields = append(fields, "publishDate")
	}
	if _, ok := ingredientList(c.Ingredients); !ok {
		fields = append(fields, "ingredients")
	}
	if s, ok := nonBlankString(c.ImageURL); !ok || !isAbsoluteHTTPURL(s) {
		fields = append(fields, "imageUrl")
	}
	return fields
}

// Sanitize はCheckを通過したCandidateからレシピを組み立てる。
// 公開日時は秒をミリ秒に切り捨てて変換し、テキスト項目からマークアップを除去する。
func (v *Validator) Sanitize(c *Candidate) *model.Recipe {
	name, _ := nonBlankString(c.Name)
	directions, _ := nonBlankString(c.Directions)
	category, _ := nonBlankString(c.Category)
	isPublished, _ := exactBool(c.IsPublished)
	seconds, _ := publishSeconds(c.PublishDate)
	ingredients, _ := ingredientList(c.Ingredients)
	imageURL, _ := nonBlankString(c.ImageURL)

	cleaned := make([]string, len(ingredients))
	for i, ing := range ingredients {
		cleaned[i] = v.sanitizer.Sanitize(ing)
	}

	return &model.Recipe{
		Name:        v.sanitizer.Sanitize(name),
		Category:    model.Category(category),
		Directions:  v.sanitizer.Sanitize(directions),
		Ingredients: cleaned,
		IsPublished: isPublished,
		PublishDate: time.UnixMilli(int64(math.Trunc(seconds * 1000))).UTC(),
		ImageURL:    imageURL,
	}
}

// Validate はCheckとSanitizeを続けて行う。
// 失敗した場合は*ValidationErrorを返す。
func (v *Validator) Validate(c *Candidate) (*model.Recipe, error) {
	if fields := Check(c); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	r := v.Sanitize(c)

	// マークアップだけの値は除去後に空になる
	var emptied []string
	if r.Name == "" {
		emptied = append(emptied, "name")
	}
	if r.Directions == "" {
		emptied = append(emptied, "directions")
	}
	raw, _ := ingredientList(c.Ingredients)
	for i, ing := range r.Ingredients {
		if strings.TrimSpace(ing) == "" && strings.TrimSpace(raw[i]) != "" {
			emptied = append(emptied, "ingredients")
			break
		}
	}
	if len(emptied) > 0 {
		return nil, &ValidationError{Fields: emptied}
	}
	return r, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func nonBlankString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func exactBool(raw json.RawMessage) (bool, bool) {
	switch string(bytes.TrimSpace(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func publishSeconds(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxPublishSeconds {
		return 0, false
	}
	return f, true
}

func ingredientList(raw json.RawMessage) ([]string, bool) {
	if isNull(raw) {
		return nil, false
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}
	return list, len(list) > 0
}

func isAbsoluteHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
