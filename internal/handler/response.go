// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/docquery/internal/middleware"
	"github.com/hitoshi/docquery/internal/model"
)

// unlimitedLabel は上限なしプランの残り回数・上限値として返す文字列。
const unlimitedLabel = "Unlimited"

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	Email         string    `json:"email"`
	DailyCount    int       `json:"dailyCount"`
	LastResetDate time.Time `json:"lastResetDate"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		Email:         u.Email,
		DailyCount:    u.DailyCount,
		LastResetDate: u.LastResetDate,
	}
}

// usageResponse は質問回答後の利用状況。
// RemainingとDailyLimitは上限なしプランでは"Unlimited"、それ以外は整数になる。
type usageResponse struct {
	UsedToday  int        `json:"usedToday"`
	Remaining  any        `json:"remaining"`
	DailyLimit any        `json:"dailyLimit"`
	ResetAt    time.Time  `json:"resetAt"`
	Plan       model.Plan `json:"plan"`
}

func toUsageResponse(u model.Usage) usageResponse {
	resp := usageResponse{
		UsedToday: u.UsedToday,
		ResetAt:   u.ResetAt,
		Plan:      u.Plan,
	}
	if u.Unlimited {
		resp.Remaining = unlimitedLabel
		resp.DailyLimit = unlimitedLabel
	} else {
		resp.Remaining = u.Remaining
		resp.DailyLimit = u.DailyLimit
	}
	return resp
}

// dailyLimitErrorResponse は上限到達時の403レスポンス。
type dailyLimitErrorResponse struct {
	middleware.ErrorResponseBody
	Remaining  int        `json:"remaining"`
	DailyLimit int        `json:"dailyLimit"`
	Plan       model.Plan `json:"plan"`
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗時はクライアントに返すINVALID_REQUESTエラーを返す。
func decodeJSON(r *http.Request, dst any) *model.APIError {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return model.NewInvalidRequestError(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return model.NewInvalidRequestError("request body is empty")
		default:
			return model.NewInvalidRequestError("malformed JSON")
		}
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var limitErr *model.DailyLimitError
	if errors.As(err, &limitErr) {
		middleware.WriteJSON(w, http.StatusForbidden, dailyLimitErrorResponse{
			ErrorResponseBody: middleware.NewErrorResponseBody(&limitErr.APIError),
			Remaining:         0,
			DailyLimit:        limitErr.DailyLimit,
			Plan:              limitErr.Plan,
		})
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest,
		model.ErrCodeMissingFields,
		model.ErrCodePasswordTooLong,
		model.ErrCodeInvalidPlan,
		model.ErrCodeInvalidSignature:
		return http.StatusBadRequest
	case model.ErrCodeMissingToken,
		model.ErrCodeInvalidToken,
		model.ErrCodeUserNotFound,
		model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeDailyLimitReached:
		return http.StatusForbidden
	case model.ErrCodeEmailExists:
		return http.StatusConflict
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeUpstreamUnavailable, model.ErrCodeBillingUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// currentUser は認証ミドルウェアが設定したユーザーを取得する。
// 取得できない場合は401を書き込みnilを返す。
func currentUser(w http.ResponseWriter, r *http.Request) *model.User {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewMissingTokenError())
		return nil
	}
	return user
}
