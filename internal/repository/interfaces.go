// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/recipebox/internal/model"
)

// ErrCursorNotFound はカーソルに指定されたレシピが存在しない場合のエラー。
var ErrCursorNotFound = errors.New("cursor recipe not found")

// ErrRecipeNotFound は部分更新の対象レシピが存在しない場合のエラー。
var ErrRecipeNotFound = errors.New("recipe not found")

// RecipeRepository はレシピの永続化インターフェース。
type RecipeRepository interface {
	// Create はIDを採番してレシピを保存し、採番したIDを返す。
	Create(ctx context.Context, recipe *model.Recipe) (string, error)

	// List は条件に一致するレシピを返す。
	// CursorIDが存在しない場合はErrCursorNotFoundを返す。
	List(ctx context.Context, q model.ListQuery) ([]*model.Recipe, error)

	// FindByID は指定IDのレシピを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Recipe, error)

	// Update はパッチのnilでないフィールドだけを書き込む。
	// 全フィールドが揃ったパッチで対象が存在しない場合は新規作成する。
	Update(ctx context.Context, id string, patch *model.RecipePatch) (string, error)

	// Delete は指定IDのレシピを削除する。存在しないIDでもエラーにしない。
	Delete(ctx context.Context, id string) error
}

// RecipeCountRepository は集計カウンタの読み取りインターフェース。
type RecipeCountRepository interface {
	// Get は指定名のカウンタ値を返す。行が存在しない場合は0を返す。
	Get(ctx context.Context, name string) (int64, error)
}
