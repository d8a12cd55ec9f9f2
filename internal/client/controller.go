package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Order は一覧の並び順。
type Order string

const (
	OrderPublishDateDesc Order = "publishDateDesc"
	OrderPublishDateAsc  Order = "publishDateAsc"
)

// DefaultPerPage は1回に取得する件数の初期値。
const DefaultPerPage = 3

// ErrInvalidPerPage は件数に正の値以外を指定した場合のエラー。
var ErrInvalidPerPage = errors.New("perPage must be positive")

// ErrUnknownOrder は未定義の並び順を指定した場合のエラー。
var ErrUnknownOrder = errors.New("unknown order")

// RecipeAPI はControllerが使うAPI操作。APIClientが実装する。
type RecipeAPI interface {
	ListRecipes(ctx context.Context, token string, opts ListOptions) (*RecipePage, error)
	CreateRecipe(ctx context.Context, token string, in RecipeInput) (string, error)
	UpdateRecipe(ctx context.Context, token, id string, in RecipeInput) (string, error)
	DeleteRecipe(ctx context.Context, token, id string) error
}

// State は表示用のコントローラーの状態。
type State struct {
	Token       string
	Recipes     []Recipe
	RecipeCount int64
	Loading     bool
	Category    string
	Order       Order
	PerPage     int
}

// Controller はレシピ一覧の取得とページ送りを管理する。
// 呼び出し元の認証情報は SetIdentity で明示的に渡す。
// 条件が変わると蓄積したページを破棄して先頭から取り直し、LoadMore は最後の1件をカーソルにして続きを追加する。
type Controller struct {
	api    RecipeAPI
	logger *slog.Logger

	// opMu は取得と更新を直列化する。muはstateだけを守る
	opMu  sync.Mutex
	mu    sync.Mutex
	state State
}

// NewController はControllerを生成する。初期状態は匿名、公開日の新しい順、3件ずつ。
func NewController(api RecipeAPI) *Controller {
	return &Controller{
		api:    api,
		logger: slog.Default(),
		state: State{
			Order:   OrderPublishDateDesc,
			PerPage: DefaultPerPage,
		},
	}
}

// Snapshot は現在の状態のコピーを返す。
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Recipes = append([]Recipe(nil), c.state.Recipes...)
	return s
}

// SetIdentity は呼び出し元のトークンを切り替えて先頭から取り直す。空なら匿名。
func (c *Controller) SetIdentity(ctx context.Context, token string) error {
	return c.reset(ctx, func(s *State) error {
		s.Token = token
		return nil
	})
}

// SetCategory はカテゴリの絞り込みを変更する。空なら全カテゴリ。
func (c *Controller) SetCategory(ctx context.Context, category string) error {
	return c.reset(ctx, func(s *State) error {
		s.Category = category
		return nil
	})
}

// SetOrder は並び順を変更する。
func (c *Controller) SetOrder(ctx context.Context, order Order) error {
	return c.reset(ctx, func(s *State) error {
		if order != OrderPublishDateDesc && order != OrderPublishDateAsc {
			return ErrUnknownOrder
		}
		s.Order = order
		return nil
	})
}

// SetPerPage は1回に取得する件数を変更する。
func (c *Controller) SetPerPage(ctx context.Context, n int) error {
	return c.reset(ctx, func(s *State) error {
		if n <= 0 {
			return ErrInvalidPerPage
		}
		s.PerPage = n
		return nil
	})
}

// Configure は認証情報と取得条件をまとめて設定する。取得は行わない。
// 表示中の一覧は破棄するので、続けてRefreshか更新系の操作を呼ぶ。
func (c *Controller) Configure(token, category string, order Order, perPage int) error {
	if order != OrderPublishDateDesc && order != OrderPublishDateAsc {
		return ErrUnknownOrder
	}
	if perPage <= 0 {
		return ErrInvalidPerPage
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{
		Token:    token,
		Category: category,
		Order:    order,
		PerPage:  perPage,
	}
	return nil
}

// Refresh は先頭ページを取得して一覧を置き換える。
func (c *Controller) Refresh(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.fetch(ctx, "")
}

// LoadMore は表示中の最後のレシピより後ろを取得して末尾に追加する。
// 一覧が空の場合は先頭ページを取得する。
func (c *Controller) LoadMore(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	cursor := ""
	if n := len(c.state.Recipes); n > 0 {
		cursor = c.state.Recipes[n-1].ID
	}
	c.mu.Unlock()

	return c.fetch(ctx, cursor)
}

// Create はレシピを作成し、一覧を先頭から取り直す。
func (c *Controller) Create(ctx context.Context, in RecipeInput) (string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	id, err := c.api.CreateRecipe(ctx, c.token(), in)
	if err != nil {
		return "", err
	}
	return id, c.fetch(ctx, "")
}

// Update はレシピを更新し、一覧を先頭から取り直す。
func (c *Controller) Update(ctx context.Context, id string, in RecipeInput) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if _, err := c.api.UpdateRecipe(ctx, c.token(), id, in); err != nil {
		return err
	}
	return c.fetch(ctx, "")
}

// Delete はレシピを削除し、一覧を先頭から取り直す。
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.api.DeleteRecipe(ctx, c.token(), id); err != nil {
		return err
	}
	return c.fetch(ctx, "")
}

func (c *Controller) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Token
}

// reset は条件を変更して先頭から取り直す。
// 蓄積したページは取得に成功した時点で置き換わる。
func (c *Controller) reset(ctx context.Context, apply func(*State) error) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	err := apply(&c.state)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.fetch(ctx, "")
}

// fetch は1ページ取得する。cursorが空なら一覧を置き換え、そうでなければ追加する。
// 失敗した場合は一覧を変更しない。opMuを保持して呼ぶ。
func (c *Controller) fetch(ctx context.Context, cursor string) error {
	c.mu.Lock()
	c.state.Loading = true
	token := c.state.Token
	opts := ListOptions{
		Category:         c.state.Category,
		OrderByField:     "publishDate",
		OrderByDirection: direction(c.state.Order),
		PerPage:          c.state.PerPage,
		CursorID:         cursor,
	}
	c.mu.Unlock()

	page, err := c.api.ListRecipes(ctx, token, opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Loading = false
	if err != nil {
		c.logger.Warn("レシピ一覧の取得に失敗しました",
			slog.String("cursor", cursor),
			slog.String("category", opts.Category),
			slog.String("error", err.Error()),
		)
		return err
	}

	c.state.RecipeCount = page.RecipeCount
	if cursor == "" {
		c.state.Recipes = append([]Recipe(nil), page.Recipes...)
	} else {
		c.state.Recipes = append(c.state.Recipes, page.Recipes...)
	}
	return nil
}

func direction(o Order) string {
	if o == OrderPublishDateAsc {
		return "asc"
	}
	return "desc"
}
