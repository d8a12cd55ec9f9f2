package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/hitoshi/recipebox/internal/client"
	"github.com/hitoshi/recipebox/internal/model"
)

// cliEnv はフラグ未指定時に使う環境変数。
type cliEnv struct {
	API   string `envconfig:"RECIPEBOX_API" default:"http://localhost:8080"`
	Token string `envconfig:"RECIPEBOX_TOKEN"`
}

type globalFlags struct {
	api   string
	token string
}

func newRootCmd(out io.Writer) *cobra.Command {
	var env cliEnv
	// 環境変数の形式エラーは既定値のまま続行する
	_ = envconfig.Process("", &env)

	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "recipectl",
		Short:         "CLI client for the recipebox REST API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&g.api, "api", "a", env.API, "recipebox base URL (RECIPEBOX_API)")
	root.PersistentFlags().StringVarP(&g.token, "token", "t", env.Token, "bearer token; empty means anonymous (RECIPEBOX_TOKEN)")

	root.AddCommand(
		newListCmd(g),
		newCreateCmd(g),
		newUpdateCmd(g),
		newDeleteCmd(g),
		newUploadCmd(g),
		newDeleteImageCmd(g),
	)
	return root
}

// newController は認証情報と取得条件を設定したControllerを返す。
func newController(g *globalFlags, category string, order client.Order, perPage int) (*client.Controller, error) {
	ctrl := client.NewController(client.NewAPIClient(g.api))
	if err := ctrl.Configure(g.token, category, order, perPage); err != nil {
		return nil, err
	}
	return ctrl, nil
}

func newListCmd(g *globalFlags) *cobra.Command {
	var (
		category string
		order    string
		perPage  int
		pages    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recipes, newest first by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, err := newController(g, category, client.Order(order), perPage)
			if err != nil {
				return err
			}
			if err := ctrl.Refresh(ctx); err != nil {
				return err
			}
			for i := 1; i < pages; i++ {
				before := len(ctrl.Snapshot().Recipes)
				if err := ctrl.LoadMore(ctx); err != nil {
					return err
				}
				if len(ctrl.Snapshot().Recipes) == before {
					break
				}
			}

			return printRecipes(cmd.OutOrStdout(), ctrl.Snapshot())
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "filter by category: "+categoryNames())
	cmd.Flags().StringVarP(&order, "order", "o", string(client.OrderPublishDateDesc), "publishDateDesc or publishDateAsc")
	cmd.Flags().IntVarP(&perPage, "per-page", "n", client.DefaultPerPage, "recipes per page")
	cmd.Flags().IntVarP(&pages, "pages", "p", 1, "number of pages to load")
	return cmd
}

// recipeFlags は作成・更新で共通のフラグ。
type recipeFlags struct {
	name        string
	category    string
	directions  string
	ingredients []string
	published   bool
	publishDate string
	imageURL    string
}

func (f *recipeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "recipe name")
	cmd.Flags().StringVar(&f.category, "category", "", "category")
	cmd.Flags().StringVar(&f.directions, "directions", "", "directions")
	cmd.Flags().StringArrayVarP(&f.ingredients, "ingredient", "i", nil, "ingredient (repeatable)")
	cmd.Flags().BoolVar(&f.published, "published", false, "publish the recipe")
	cmd.Flags().StringVar(&f.publishDate, "publish-date", "", "RFC3339 time or epoch seconds; default now")
	cmd.Flags().StringVar(&f.imageURL, "image-url", "", "absolute http(s) image URL")
}

func (f *recipeFlags) input(now time.Time) (client.RecipeInput, error) {
	publishDate := now
	if f.publishDate != "" {
		t, err := parsePublishDate(f.publishDate)
		if err != nil {
			return client.RecipeInput{}, err
		}
		publishDate = t
	}
	return client.RecipeInput{
		Name:        f.name,
		Category:    f.category,
		Directions:  f.directions,
		Ingredients: f.ingredients,
		IsPublished: f.published,
		PublishDate: publishDate,
		ImageURL:    f.imageURL,
	}, nil
}

func parsePublishDate(s string) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --publish-date %q: want RFC3339 or epoch seconds", s)
	}
	return t, nil
}

func newCreateCmd(g *globalFlags) *cobra.Command {
	f := &recipeFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a recipe",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := f.input(time.Now())
			if err != nil {
				return err
			}
			ctrl, err := newController(g, "", client.OrderPublishDateDesc, client.DefaultPerPage)
			if err != nil {
				return err
			}
			id, err := ctrl.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newUpdateCmd(g *globalFlags) *cobra.Command {
	f := &recipeFlags{}
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Overwrite a recipe, creating it when the id is unknown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := f.input(time.Now())
			if err != nil {
				return err
			}
			ctrl, err := newController(g, "", client.OrderPublishDateDesc, client.DefaultPerPage)
			if err != nil {
				return err
			}
			if err := ctrl.Update(cmd.Context(), args[0], in); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), args[0])
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := newController(g, "", client.OrderPublishDateDesc, client.DefaultPerPage)
			if err != nil {
				return err
			}
			return ctrl.Delete(cmd.Context(), args[0])
		},
	}
}

func newUploadCmd(g *globalFlags) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an image and print its public URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.token == "" {
				return errors.New("upload requires --token")
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			info, err := file.Stat()
			if err != nil {
				return err
			}
			if contentType == "" {
				contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(args[0])))
			}

			ctx := cmd.Context()
			api := client.NewAPIClient(g.api)
			up, err := api.RequestUpload(ctx, g.token, contentType)
			if err != nil {
				return err
			}

			errOut := cmd.ErrOrStderr()
			err = api.UploadImage(ctx, up.UploadURL, file, info.Size(), contentType, func(percent int) {
				fmt.Fprintf(errOut, "\ruploading... %3d%%", percent)
			})
			fmt.Fprintln(errOut)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), up.ImageURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "image content type; guessed from the extension when empty")
	return cmd
}

func newDeleteImageCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-image <imageUrl>",
		Short: "Delete an uploaded image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.NewAPIClient(g.api).DeleteImage(cmd.Context(), g.token, args[0])
		},
	}
}

func categoryNames() string {
	cats := model.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func printRecipes(out io.Writer, s client.State) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\tCATEGORY\tPUBLISHED\tPUBLISH DATE\n")
	for _, r := range s.Recipes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
			r.ID, r.Name, model.Category(r.Category).Label(), r.IsPublished, r.PublishDate.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "\n%d shown / %d total\n", len(s.Recipes), s.RecipeCount)
	return tw.Flush()
}
