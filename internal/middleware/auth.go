package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/docquery/internal/model"
)

// contextKey はコンテキストに値を格納するためのキー型。
type contextKey string

const (
	// userContextKey は認証済みユーザーをコンテキストに格納するキー。
	userContextKey contextKey = "user"
)

// ErrNoUserInContext はコンテキストに認証済みユーザーが存在しない場合のエラー。
var ErrNoUserInContext = errors.New("user not found in context")

// TokenAuthenticator はアクセストークンから現存するユーザーを解決する。
// 失敗時は*model.APIError（MISSING_TOKEN/INVALID_TOKEN/USER_NOT_FOUND）またはそれ以外のエラーを返す。
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのアクセストークンを検証するミドルウェアを返す。
// "Bearer <token>" と、スキームなしのトークンの両方を受け付ける。
// 認証に成功したユーザーはコンテキストに格納され、UserFromContextで取得できる。
func NewAuthMiddleware(authn TokenAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r.Header.Get("Authorization"))

			user, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.Error("failed to authenticate request",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			setRequestUserID(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// BearerToken はAuthorizationヘッダーの値からトークン部分を取り出す。
// "Bearer "（大文字小文字を問わない）が付いていれば取り除き、付いていなければ値全体をトークンとする。
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, "bearer") {
		return ""
	}
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// UserFromContext はコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, ErrNoUserInContext
	}
	return user, nil
}

// UserIDFromContext はコンテキストから認証済みユーザーのIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ContextWithUser はユーザーをコンテキストに設定する。テストおよび内部利用向け。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
