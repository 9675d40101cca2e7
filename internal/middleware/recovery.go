package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// headerWritten はロギングミドルウェアのラッパー経由でレスポンスが書き始められたかを返す。
func headerWritten(w http.ResponseWriter) bool {
	ww, ok := w.(chimw.WrapResponseWriter)
	return ok && ww.Status() != 0
}

// NewRecoveryMiddleware はハンドラー内のpanicを捕捉し、スタックトレースをログに残して
// 統一フォーマットの500を返すミドルウェアを返す。
// ストリーム中断用のhttp.ErrAbortHandlerは再送出する。
// すでにヘッダー送信済みの場合はボディを追記しない。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				attrs := []slog.Attr{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if reqID := chimw.GetReqID(r.Context()); reqID != "" {
					attrs = append(attrs, slog.String("request_id", reqID))
				}
				logger.LogAttrs(r.Context(), slog.LevelError, "panic_recovered", attrs...)

				if !headerWritten(w) {
					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
