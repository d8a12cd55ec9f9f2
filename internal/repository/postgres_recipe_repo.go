package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/recipebox/internal/model"
)

const recipeColumns = `id, name, category, directions, ingredients, is_published,
		        publish_date, image_url, created_at, updated_at`

// orderColumns は並び替えに使えるフィールドとカラムの対応。
// ここに無いフィールドでSQLを組み立ててはならない。
var orderColumns = map[model.OrderField]string{
	model.OrderFieldName:        "name",
	model.OrderFieldCategory:    "category",
	model.OrderFieldPublishDate: "publish_date",
}

// PostgresRecipeRepo はPostgreSQLを使用したレシピリポジトリ。
type PostgresRecipeRepo struct {
	db *sql.DB
}

// NewPostgresRecipeRepo はPostgresRecipeRepoを生成する。
func NewPostgresRecipeRepo(db *sql.DB) *PostgresRecipeRepo {
	return &PostgresRecipeRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecipe(s rowScanner) (*model.Recipe, error) {
	r := &model.Recipe{}
	err := s.Scan(
		&r.ID, &r.Name, &r.Category, &r.Directions, pq.Array(&r.Ingredients),
		&r.IsPublished, &r.PublishDate, &r.ImageURL, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// FindByID は指定IDのレシピを取得する。見つからない場合はnilを返す。
func (r *PostgresRecipeRepo) FindByID(ctx context.Context, id string) (*model.Recipe, error) {
	recipe, err := scanRecipe(r.db.QueryRowContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("レシピの取得に失敗しました: %w", err)
	}
	return recipe, nil
}

// Create は新規レシピを作成し、採番したIDを返す。
func (r *PostgresRecipeRepo) Create(ctx context.Context, recipe *model.Recipe) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recipes (id, name, category, directions, ingredients, is_published,
		                      publish_date, image_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		id, recipe.Name, string(recipe.Category), recipe.Directions,
		pq.Array(recipe.Ingredients), recipe.IsPublished, recipe.PublishDate, recipe.ImageURL,
	)
	if err != nil {
		return "", fmt.Errorf("レシピの作成に失敗しました: %w", err)
	}
	return id, nil
}

// List は条件に一致するレシピを返す。
// カーソルモードではカーソル行を先に読み、その行より後ろを返す。
// PublishedOnlyの場合、非公開のカーソル行は存在しないものとして扱う。
func (r *PostgresRecipeRepo) List(ctx context.Context, q model.ListQuery) ([]*model.Recipe, error) {
	var cursor *model.Recipe
	if q.CursorID != "" {
		c, err := r.FindByID(ctx, q.CursorID)
		if err != nil {
			return nil, err
		}
		if c == nil || (q.PublishedOnly && !c.IsPublished) {
			return nil, fmt.Errorf("%w: %s", ErrCursorNotFound, q.CursorID)
		}
		cursor = c
	}

	query, args := buildListQuery(q, cursor)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("レシピ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	recipes := make([]*model.Recipe, 0)
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("レシピ行の読み取りに失敗しました: %w", err)
		}
		recipes = append(recipes, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("レシピ一覧の走査に失敗しました: %w", err)
	}

	return recipes, nil
}

// buildListQuery は一覧取得のSQLと引数を組み立てる。
// cursorはカーソルモードの場合のみ非nil。
func buildListQuery(q model.ListQuery, cursor *model.Recipe) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + recipeColumns + ` FROM recipes`)

	var conds []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.PublishedOnly {
		conds = append(conds, "is_published = true")
	}
	if q.Category != "" {
		conds = append(conds, "category = "+next(string(q.Category)))
	}

	col, ordered := orderColumns[q.OrderBy]
	dir := "ASC"
	if ordered && q.Direction == model.DirectionDesc {
		dir = "DESC"
	}

	if cursor != nil {
		op := ">"
		if dir == "DESC" {
			op = "<"
		}
		if ordered {
			conds = append(conds, fmt.Sprintf("(%s, id) %s (%s, %s)",
				col, op, next(cursorValue(q.OrderBy, cursor)), next(cursor.ID)))
		} else {
			conds = append(conds, fmt.Sprintf("id %s %s", op, next(cursor.ID)))
		}
	}

	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	if ordered {
		sb.WriteString(fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir))
	} else {
		sb.WriteString(" ORDER BY id ASC")
	}

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + next(q.Limit))
	}
	// カーソルモードではオフセットを使わない
	if cursor == nil {
		if off := q.Offset(); off > 0 {
			sb.WriteString(" OFFSET " + next(off))
		}
	}

	return sb.String(), args
}

// cursorValue はカーソル行から並び替えカラムの値を取り出す。
func cursorValue(f model.OrderField, c *model.Recipe) interface{} {
	switch f {
	case model.OrderFieldName:
		return c.Name
	case model.OrderFieldCategory:
		return string(c.Category)
	case model.OrderFieldPublishDate:
		return c.PublishDate
	}
	return nil
}

// Update はパッチのnilでないフィールドだけを書き込む。
// 全フィールドが揃っている場合はUPSERTし、存在しないIDでも作成する。
// 一部のフィールドだけの場合は既存行のみを更新し、無ければErrRecipeNotFoundを返す。
func (r *PostgresRecipeRepo) Update(ctx context.Context, id string, patch *model.RecipePatch) (string, error) {
	cols, vals := patchColumns(patch)

	if len(cols) == len(orderedPatchColumns) {
		query, args := buildUpsertQuery(id, cols, vals)
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return "", fmt.Errorf("レシピの更新に失敗しました: %w", err)
		}
		return id, nil
	}

	sets := make([]string, 0, len(cols)+1)
	args := []interface{}{id}
	for i, c := range cols {
		args = append(args, vals[i])
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	sets = append(sets, "updated_at = now()")

	result, err := r.db.ExecContext(ctx,
		`UPDATE recipes SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return "", fmt.Errorf("レシピの更新に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return "", ErrRecipeNotFound
	}
	return id, nil
}

var orderedPatchColumns = []string{
	"name", "category", "directions", "ingredients", "is_published", "publish_date", "image_url",
}

// patchColumns はパッチのnilでないフィールドをカラム名と値の組にする。
func patchColumns(p *model.RecipePatch) ([]string, []interface{}) {
	var cols []string
	var vals []interface{}
	if p == nil {
		return cols, vals
	}
	add := func(col string, v interface{}) {
		cols = append(cols, col)
		vals = append(vals, v)
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.Category != nil {
		add("category", string(*p.Category))
	}
	if p.Directions != nil {
		add("directions", *p.Directions)
	}
	if p.Ingredients != nil {
		add("ingredients", pq.Array(p.Ingredients))
	}
	if p.IsPublished != nil {
		add("is_published", *p.IsPublished)
	}
	if p.PublishDate != nil {
		add("publish_date", p.PublishDate.UTC().Truncate(time.Microsecond))
	}
	if p.ImageURL != nil {
		add("image_url", *p.ImageURL)
	}
	return cols, vals
}

func buildUpsertQuery(id string, cols []string, vals []interface{}) (string, []interface{}) {
	args := append([]interface{}{id}, vals...)
	placeholders := make([]string, len(cols))
	updates := make([]string, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	updates = append(updates, "updated_at = now()")

	query := `INSERT INTO recipes (id, ` + strings.Join(cols, ", ") + `, created_at, updated_at)
		 VALUES ($1, ` + strings.Join(placeholders, ", ") + `, now(), now())
		 ON CONFLICT (id) DO UPDATE SET ` + strings.Join(updates, ", ")
	return query, args
}

// Delete は指定IDのレシピを削除する。存在しないIDでもエラーにしない。
func (r *PostgresRecipeRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM recipes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("レシピの削除に失敗しました: %w", err)
	}
	return nil
}
