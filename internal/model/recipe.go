// Package model はドメインモデルを定義する。
package model

import "time"

// Recipe は永続化されるレシピを表す。
type Recipe struct {
	ID          string
	Name        string
	Category    Category
	Directions  string
	Ingredients []string
	IsPublished bool
	PublishDate time.Time
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecipePatch はマージ更新で書き込むフィールドを表す。
// nilのフィールドは保存済みの値を変更しない。
type RecipePatch struct {
	Name        *string
	Category    *Category
	Directions  *string
	Ingredients []string // nilの場合は変更しない
	IsPublished *bool
	PublishDate *time.Time
	ImageURL    *string
}

// PatchFromRecipe はRecipeの7フィールドすべてを書き込むパッチを生成する。
func PatchFromRecipe(r *Recipe) *RecipePatch {
	name := r.Name
	category := r.Category
	directions := r.Directions
	isPublished := r.IsPublished
	publishDate := r.PublishDate
	imageURL := r.ImageURL
	return &RecipePatch{
		Name:        &name,
		Category:    &category,
		Directions:  &directions,
		Ingredients: r.Ingredients,
		IsPublished: &isPublished,
		PublishDate: &publishDate,
		ImageURL:    &imageURL,
	}
}

// Category はレシピのカテゴリを表す。
type Category string

const (
	CategoryBreadsSandwichesAndPizza Category = "breadsSandwichesAndPizza"
	CategoryEggsAndBreakfast         Category = "eggsAndBreakfast"
	CategoryDessertsAndBakedGoods    Category = "dessertsAndBakedGoods"
	CategoryFishAndSeafood           Category = "fishAndSeafood"
	CategoryVegetables               Category = "vegetables"
)

var categoryLabels = map[Category]string{
	CategoryBreadsSandwichesAndPizza: "Breads, Sandwiches, and Pizza",
	CategoryEggsAndBreakfast:         "Eggs & Breakfast",
	CategoryDessertsAndBakedGoods:    "Desserts & Baked Goods",
	CategoryFishAndSeafood:           "Fish & Seafood",
	CategoryVegetables:               "Vegetables",
}

// Categories は定義済みカテゴリを表示順で返す。
func Categories() []Category {
	return []Category{
		CategoryBreadsSandwichesAndPizza,
		CategoryEggsAndBreakfast,
		CategoryDessertsAndBakedGoods,
		CategoryFishAndSeafood,
		CategoryVegetables,
	}
}

// Valid は定義済みカテゴリかどうかを返す。
func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// Label は表示用のラベルを返す。未定義のカテゴリはキーをそのまま返す。
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// 集計カウンタはトリガーで維持され、リクエスト処理からは読み取りのみ行う。
const (
	// RecipeCountAll は全レシピ数のカウンタ名。
	RecipeCountAll = "all"
	// RecipeCountPublished は公開済みレシピ数のカウンタ名。
	RecipeCountPublished = "published"
)

// Identity はベアラートークンから検証済みの呼び出し元を表す。
// リクエストごとに生成され、永続化しない。
type Identity struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// OrderField は一覧の並び替えに使えるフィールド。
type OrderField string

const (
	OrderFieldNone        OrderField = ""
	OrderFieldName        OrderField = "name"
	OrderFieldCategory    OrderField = "category"
	OrderFieldPublishDate OrderField = "publishDate"
)

// Valid は許可リストに含まれるかどうかを返す。
func (f OrderField) Valid() bool {
	switch f {
	case OrderFieldNone, OrderFieldName, OrderFieldCategory, OrderFieldPublishDate:
		return true
	}
	return false
}

// Direction は並び順の方向。
type Direction string

const (
	DirectionAsc  Direction = "asc"
	DirectionDesc Direction = "desc"
)

// ListQuery はストアに渡す一覧取得条件。
// PageNumberとCursorIDは排他で、両方指定された状態でストアに渡してはならない。
type ListQuery struct {
	Category      Category
	PublishedOnly bool
	OrderBy       OrderField
	Direction     Direction
	Limit         int    // 0は無制限
	PageNumber    int    // 1始まり。Limitと併用した場合のみオフセットを適用する
	CursorID      string // このIDの行より後ろを返す
}

// Offset はオフセットページネーションのスキップ件数を返す。
func (q ListQuery) Offset() int {
	if q.Limit > 0 && q.PageNumber > 0 {
		return (q.PageNumber - 1) * q.Limit
	}
	return 0
}
