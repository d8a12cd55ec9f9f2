package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// responseObserver はhttp.ResponseWriterをラップし、最初に確定したステータスと書き込みバイト数を記録する。
type responseObserver struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (o *responseObserver) WriteHeader(code int) {
	if o.status == 0 {
		o.status = code
	}
	o.ResponseWriter.WriteHeader(code)
}

// Write はWriteHeader未呼び出しなら暗黙の200として記録する。
func (o *responseObserver) Write(b []byte) (int, error) {
	if o.status == 0 {
		o.status = http.StatusOK
	}
	n, err := o.ResponseWriter.Write(b)
	o.bytes += n
	return n, err
}

// Unwrap はhttp.ResponseControllerから元のWriterを辿れるようにする。
func (o *responseObserver) Unwrap() http.ResponseWriter {
	return o.ResponseWriter
}

func (o *responseObserver) statusCode() int {
	if o.status == 0 {
		return http.StatusOK
	}
	return o.status
}

// requestLogState は内側のミドルウェアからログ項目を受け取るための入れ物。
// 1リクエストを処理するゴルーチンだけが触る。
type requestLogState struct {
	subject string
}

var logStateContextKey = contextKey("log_state")

// recordSubject は認証済みの呼び出し元をリクエストログに載せる。
func recordSubject(ctx context.Context, subject string) {
	if st, ok := ctx.Value(logStateContextKey).(*requestLogState); ok {
		st.subject = subject
	}
}

// StatusObserver はレスポンスのステータスと処理時間を受け取る。
type StatusObserver interface {
	ObserveRequest(method string, status int, duration time.Duration)
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware は1リクエストにつき1行の http_request ログを出力するミドルウェアを返す。
// 項目はmethod、path、status、bytes、duration_ms、subject（認証済みの場合）。
// observerがnilでなければ同じ値をメトリクスにも渡す。
func NewLoggingMiddleware(logger *slog.Logger, observer StatusObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseObserver{ResponseWriter: w}
			state := &requestLogState{}

			next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), logStateContextKey, state)))

			elapsed := time.Since(start)
			status := rw.statusCode()
			if observer != nil {
				observer.ObserveRequest(r.Method, status, elapsed)
			}

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", rw.bytes),
				slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
			}
			if state.subject != "" {
				args = append(args, slog.String("subject", state.subject))
			}
			logger.Log(r.Context(), levelForStatus(status), "http_request", args...)
		})
	}
}
