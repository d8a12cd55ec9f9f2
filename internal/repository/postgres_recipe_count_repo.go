package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRecipeCountRepo はrecipe_countsテーブルを読み取るリポジトリ。
// カウンタはトリガーと再集計ワーカーが維持する。
type PostgresRecipeCountRepo struct {
	db *sql.DB
}

// NewPostgresRecipeCountRepo はPostgresRecipeCountRepoを生成する。
func NewPostgresRecipeCountRepo(db *sql.DB) *PostgresRecipeCountRepo {
	return &PostgresRecipeCountRepo{db: db}
}

// Get は指定名のカウンタ値を返す。行が存在しない場合は0を返す。
func (r *PostgresRecipeCountRepo) Get(ctx context.Context, name string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count FROM recipe_counts WHERE name = $1`, name,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("レシピ件数の取得に失敗しました: %w", err)
	}
	return count, nil
}
