package recipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository"
)

// ListParams はクエリ文字列から受け取った一覧取得条件。未指定は空文字列。
type ListParams struct {
	Category         string
	OrderByField     string
	OrderByDirection string
	PerPage          string
	PageNumber       string
	CursorID         string
}

// ListResult はListの戻り値。
// RecipeCountは呼び出し元に応じた集計カウンタの値で、絞り込み条件は反映しない。
type ListResult struct {
	RecipeCount int64
	Recipes     []*model.Recipe
}

// Service はレシピの作成・一覧・更新・削除を提供する。
type Service struct {
	recipes    repository.RecipeRepository
	counts     repository.RecipeCountRepository
	validator  *Validator
	maxPerPage int
}

// NewService はServiceを生成する。maxPerPageは1ページの最大件数。
func NewService(
	recipes repository.RecipeRepository,
	counts repository.RecipeCountRepository,
	validator *Validator,
	maxPerPage int,
) *Service {
	return &Service{
		recipes:    recipes,
		counts:     counts,
		validator:  validator,
		maxPerPage: maxPerPage,
	}
}

// Create はレシピを検証して保存し、採番されたIDを返す。
func (s *Service) Create(ctx context.Context, c *Candidate) (string, error) {
	r, err := s.validate(c)
	if err != nil {
		return "", err
	}

	id, err := s.recipes.Create(ctx, r)
	if err != nil {
		return "", model.NewStoreFailureError(err)
	}

	slog.Info("レシピを作成しました",
		slog.String("recipe_id", id),
		slog.String("category", string(r.Category)),
		slog.Bool("is_published", r.IsPublished),
	)
	return id, nil
}

// List は条件に一致するレシピと件数を返す。
// identityがnilの呼び出し元には公開済みのレシピだけを返し、件数もpublishedカウンタを使う。
func (s *Service) List(ctx context.Context, identity *model.Identity, p ListParams) (*ListResult, error) {
	q, err := s.parseListParams(p)
	if err != nil {
		return nil, err
	}

	counter := model.RecipeCountAll
	if identity == nil {
		q.PublishedOnly = true
		counter = model.RecipeCountPublished
	}

	count, err := s.counts.Get(ctx, counter)
	if err != nil {
		return nil, model.NewStoreFailureError(err)
	}

	recipes, err := s.recipes.List(ctx, q)
	if err != nil {
		if errors.Is(err, repository.ErrCursorNotFound) {
			return nil, model.NewInvalidQueryError("cursorId に一致するレシピがありません: " + q.CursorID)
		}
		return nil, model.NewStoreFailureError(err)
	}

	return &ListResult{RecipeCount: count, Recipes: recipes}, nil
}

// Update は指定IDのレシピを検証済みの7フィールドで上書きする。
// 存在しないIDの場合は新規に作成する。
func (s *Service) Update(ctx context.Context, id string, c *Candidate) (string, error) {
	r, err := s.validate(c)
	if err != nil {
		return "", err
	}

	updatedID, err := s.recipes.Update(ctx, id, model.PatchFromRecipe(r))
	if err != nil {
		return "", model.NewStoreFailureError(err)
	}

	slog.Info("レシピを更新しました", slog.String("recipe_id", updatedID))
	return updatedID, nil
}

// Delete は指定IDのレシピを削除する。存在しないIDでも成功とする。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.recipes.Delete(ctx, id); err != nil {
		return model.NewStoreFailureError(err)
	}

	slog.Info("レシピを削除しました", slog.String("recipe_id", id))
	return nil
}

func (s *Service) validate(c *Candidate) (*model.Recipe, error) {
	r, err := s.validator.Validate(c)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, model.NewValidationFailedError(verr.Fields)
		}
		return nil, err
	}
	return r, nil
}

// parseListParams はクエリ文字列をストア向けの条件に変換する。
// perPage未指定の場合はmaxPerPageを上限として適用する。maxPerPageが0以下なら上限なし。
// pageNumberはperPageと併用されたときだけオフセットに使い、単独指定は先頭から返す。
func (s *Service) parseListParams(p ListParams) (model.ListQuery, error) {
	q := model.ListQuery{
		Category:  model.Category(p.Category),
		Direction: model.DirectionAsc,
		Limit:     s.maxPerPage,
		CursorID:  p.CursorID,
	}

	field := model.OrderField(p.OrderByField)
	if !field.Valid() {
		return q, model.NewInvalidQueryError("orderByField に指定できない値です: " + p.OrderByField)
	}
	q.OrderBy = field

	switch model.Direction(p.OrderByDirection) {
	case "", model.DirectionAsc:
	case model.DirectionDesc:
		q.Direction = model.DirectionDesc
	default:
		return q, model.NewInvalidQueryError("orderByDirection は asc または desc です: " + p.OrderByDirection)
	}

	if p.PerPage != "" {
		n, err := positiveInt("perPage", p.PerPage)
		if err != nil {
			return q, err
		}
		if s.maxPerPage <= 0 || n < s.maxPerPage {
			q.Limit = n
		}
	}

	if p.PageNumber != "" {
		if p.CursorID != "" {
			return q, model.NewInvalidQueryError("pageNumber と cursorId は同時に指定できません")
		}
		n, err := positiveInt("pageNumber", p.PageNumber)
		if err != nil {
			return q, err
		}
		if p.PerPage != "" {
			q.PageNumber = n
		}
	}

	return q, nil
}

func positiveInt(name, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, model.NewInvalidQueryError(fmt.Sprintf("%s は正の整数です: %s", name, raw))
	}
	return n, nil
}
