// Package recount はレシピ件数カウンタの再集計ジョブを提供する。
// recipe_countsはトリガーで増減するが、トリガー導入前のデータや手動での変更でずれうるため、
// recipesから数え直して上書きする。
package recount

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
)

// recountQuery はall/publishedの2行をrecipesから数え直して上書きする。
// トリガーによる増減と競合しないよう、1つのトランザクション内でrecipe_countsをロックしてから数える。
// ロック取得前にカウンタを更新した書き込みはコミットを待ってから数え、
// ロック中に始まった書き込みのトリガーは上書きの後に適用される。
const recountQuery = `
DO $$
BEGIN
    LOCK TABLE recipe_counts IN SHARE ROW EXCLUSIVE MODE;
    INSERT INTO recipe_counts (name, count)
    SELECT 'all', count(*) FROM recipes
    UNION ALL
    SELECT 'published', count(*) FROM recipes WHERE is_published
    ON CONFLICT (name) DO UPDATE SET count = EXCLUDED.count;
END
$$`

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CountReader は集計カウンタを読み取る。repository.RecipeCountRepositoryが実装する。
type CountReader interface {
	Get(ctx context.Context, name string) (int64, error)
}

// Recorder は再集計の結果を記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordRecount(all, published int64)
	RecordRecountFailure()
}

// Job は件数カウンタの再集計ジョブ。
// 何度実行しても結果は同じになる。
type Job struct {
	db       Executor
	counts   CountReader
	logger   *slog.Logger
	recorder Recorder
}

// NewJob は新しいJobを生成する。recorderはnilでもよい。
func NewJob(db Executor, counts CountReader, logger *slog.Logger, recorder Recorder) *Job {
	return &Job{
		db:       db,
		counts:   counts,
		logger:   logger,
		recorder: recorder,
	}
}

// Run はカウンタを数え直し、結果の件数をログとメトリクスに記録する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	if _, err := j.db.ExecContext(ctx, recountQuery); err != nil {
		j.fail()
		j.logger.Error("件数の再集計に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("件数の再集計に失敗: %w", err)
	}

	all, err := j.counts.Get(ctx, model.RecipeCountAll)
	if err != nil {
		j.fail()
		return fmt.Errorf("allカウンタの取得に失敗: %w", err)
	}
	published, err := j.counts.Get(ctx, model.RecipeCountPublished)
	if err != nil {
		j.fail()
		return fmt.Errorf("publishedカウンタの取得に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordRecount(all, published)
	}

	j.logger.Info("件数の再集計が完了しました",
		slog.Int64("all", all),
		slog.Int64("published", published),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降intervalごとに実行する。
// ctxがキャンセルされると戻る。失敗はログに残して次の周期を待つ。
// intervalが0以下の場合は1回だけ実行して戻る。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	if interval <= 0 {
		j.logger.Error("再集計の間隔が不正なため定期実行しません", slog.Duration("interval", interval))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("recount job failed", slog.String("error", err.Error()))
	}
}

func (j *Job) fail() {
	if j.recorder != nil {
		j.recorder.RecordRecountFailure()
	}
}
