// Package client はレシピAPIのクライアントと、一覧の取得・ページ送りを管理するコントローラーを提供する。
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Recipe はAPIから受け取ったレシピ。PublishDateはエポック秒から復元する。
type Recipe struct {
	ID          string
	Name        string
	Category    string
	Directions  string
	Ingredients []string
	IsPublished bool
	PublishDate time.Time
	ImageURL    string
}

// RecipeInput は作成・更新で送るレシピ。
type RecipeInput struct {
	Name        string
	Category    string
	Directions  string
	Ingredients []string
	IsPublished bool
	PublishDate time.Time
	ImageURL    string
}

// ListOptions は一覧取得のクエリ。ゼロ値の項目は送らない。
type ListOptions struct {
	Category         string
	OrderByField     string
	OrderByDirection string
	PerPage          int
	PageNumber       int
	CursorID         string
}

// RecipePage は一覧取得の結果。
type RecipePage struct {
	RecipeCount int64
	Recipes     []Recipe
}

// Upload は発行された署名付きアップロードURL。
type Upload struct {
	Key       string    `json:"key"`
	UploadURL string    `json:"uploadUrl"`
	ImageURL  string    `json:"imageUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// APIError はAPIが返したエラーレスポンス。
type APIError struct {
	StatusCode int
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Fields     []string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api status %d", e.StatusCode)
	}
	return fmt.Sprintf("api status %d: [%s] %s", e.StatusCode, e.Code, e.Message)
}

// IsUnauthorized はerrが401のAPIErrorかどうかを返す。
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// wire formats

type recipeDoc struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Directions  string   `json:"directions"`
	Ingredients []string `json:"ingredients"`
	IsPublished bool     `json:"isPublished"`
	PublishDate int64    `json:"publishDate"`
	ImageURL    string   `json:"imageUrl"`
}

type listResponse struct {
	RecipeCount int64       `json:"recipeCount"`
	Documents   []recipeDoc `json:"documents"`
}

type recipeBody struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Directions  string   `json:"directions"`
	Ingredients []string `json:"ingredients"`
	IsPublished bool     `json:"isPublished"`
	PublishDate int64    `json:"publishDate"`
	ImageURL    string   `json:"imageUrl"`
}

type idResponse struct {
	ID string `json:"id"`
}

type contentLengthKey struct{}

// APIClient はレシピAPIのHTTPクライアント。
// トークンは呼び出しごとに渡し、空なら匿名で呼び出す。
type APIClient struct {
	http   *resty.Client
	upload *resty.Client
}

// NewAPIClient はbaseURLのAPIに接続するクライアントを生成する。
func NewAPIClient(baseURL string) *APIClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)

	// 署名付きURLへのPUTはチャンク転送を受け付けないため長さを明示する
	up := resty.New().
		SetTimeout(5 * time.Minute).
		SetPreRequestHook(func(_ *resty.Client, req *http.Request) error {
			if n, ok := req.Context().Value(contentLengthKey{}).(int64); ok {
				req.ContentLength = n
			}
			return nil
		})

	return &APIClient{http: c, upload: up}
}

func (c *APIClient) request(ctx context.Context, token string) *resty.Request {
	r := c.http.R().SetContext(ctx).SetError(&APIError{})
	if token != "" {
		r.SetAuthToken(token)
	}
	return r
}

// ListRecipes はレシピの一覧を取得する。
func (c *APIClient) ListRecipes(ctx context.Context, token string, opts ListOptions) (*RecipePage, error) {
	params := map[string]string{}
	if opts.Category != "" {
		params["category"] = opts.Category
	}
	if opts.OrderByField != "" {
		params["orderByField"] = opts.OrderByField
	}
	if opts.OrderByDirection != "" {
		params["orderByDirection"] = opts.OrderByDirection
	}
	if opts.PerPage > 0 {
		params["perPage"] = strconv.Itoa(opts.PerPage)
	}
	if opts.PageNumber > 0 {
		params["pageNumber"] = strconv.Itoa(opts.PageNumber)
	}
	if opts.CursorID != "" {
		params["cursorId"] = opts.CursorID
	}

	var body listResponse
	resp, err := c.request(ctx, token).
		SetQueryParams(params).
		SetResult(&body).
		Get("/recipes")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	page := &RecipePage{
		RecipeCount: body.RecipeCount,
		Recipes:     make([]Recipe, len(body.Documents)),
	}
	for i, d := range body.Documents {
		page.Recipes[i] = Recipe{
			ID:          d.ID,
			Name:        d.Name,
			Category:    d.Category,
			Directions:  d.Directions,
			Ingredients: d.Ingredients,
			IsPublished: d.IsPublished,
			PublishDate: time.Unix(d.PublishDate, 0),
			ImageURL:    d.ImageURL,
		}
	}
	return page, nil
}

// CreateRecipe はレシピを作成し、IDを返す。
func (c *APIClient) CreateRecipe(ctx context.Context, token string, in RecipeInput) (string, error) {
	var body idResponse
	resp, err := c.request(ctx, token).
		SetBody(toRecipeBody(in)).
		SetResult(&body).
		Post("/recipes")
	if err := checkResponse(resp, err); err != nil {
		return "", err
	}
	return body.ID, nil
}

// UpdateRecipe は指定IDのレシピを上書きする。
func (c *APIClient) UpdateRecipe(ctx context.Context, token, id string, in RecipeInput) (string, error) {
	var body idResponse
	resp, err := c.request(ctx, token).
		SetPathParam("id", id).
		SetBody(toRecipeBody(in)).
		SetResult(&body).
		Put("/recipes/{id}")
	if err := checkResponse(resp, err); err != nil {
		return "", err
	}
	return body.ID, nil
}

// DeleteRecipe は指定IDのレシピを削除する。
func (c *APIClient) DeleteRecipe(ctx context.Context, token, id string) error {
	resp, err := c.request(ctx, token).
		SetPathParam("id", id).
		Delete("/recipes/{id}")
	return checkResponse(resp, err)
}

// RequestUpload は画像アップロード用の署名付きURLを発行してもらう。
func (c *APIClient) RequestUpload(ctx context.Context, token, contentType string) (*Upload, error) {
	var up Upload
	resp, err := c.request(ctx, token).
		SetBody(map[string]string{"contentType": contentType}).
		SetResult(&up).
		Post("/uploads")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &up, nil
}

// UploadImage は署名付きURLへ画像をPUTする。
// progressには送信済みの割合（0〜100）を渡す。nilでもよい。
func (c *APIClient) UploadImage(ctx context.Context, uploadURL string, data io.Reader, size int64, contentType string, progress func(percent int)) error {
	pr := newProgressReader(data, size, progress)
	pr.report(0)

	resp, err := c.upload.R().
		SetContext(context.WithValue(ctx, contentLengthKey{}, size)).
		SetHeader("Content-Type", contentType).
		SetBody(pr).
		Put(uploadURL)
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Message: resp.String()}
	}

	pr.report(100)
	return nil
}

// DeleteImage はアップロード済みの画像を削除する。
func (c *APIClient) DeleteImage(ctx context.Context, token, imageURL string) error {
	resp, err := c.request(ctx, token).
		SetQueryParam("url", imageURL).
		Delete("/uploads")
	return checkResponse(resp, err)
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("recipe api request: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.StatusCode = resp.StatusCode()
	return apiErr
}

func toRecipeBody(in RecipeInput) recipeBody {
	return recipeBody{
		Name:        in.Name,
		Category:    in.Category,
		Directions:  in.Directions,
		Ingredients: in.Ingredients,
		IsPublished: in.IsPublished,
		PublishDate: in.PublishDate.Unix(),
		ImageURL:    in.ImageURL,
	}
}

// progressReader は読み出し量から送信の進捗を報告する。
type progressReader struct {
	r        io.Reader
	size     int64
	read     int64
	last     int
	progress func(int)
}

func newProgressReader(r io.Reader, size int64, progress func(int)) *progressReader {
	return &progressReader{r: r, size: size, last: -1, progress: progress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.size > 0 {
		pct := int(p.read * 100 / p.size)
		if pct > 100 {
			pct = 100
		}
		// 100は送信完了の確認後に報告する
		if pct < 100 {
			p.report(pct)
		}
	}
	return n, err
}

func (p *progressReader) report(pct int) {
	if p.progress == nil || pct <= p.last {
		return
	}
	p.last = pct
	p.progress(pct)
}
