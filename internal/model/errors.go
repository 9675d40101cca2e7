// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, quota, billing, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeMissingFields       = "MISSING_FIELDS"
	ErrCodePasswordTooLong     = "PASSWORD_TOO_LONG"
	ErrCodeInvalidPlan         = "INVALID_PLAN"
	ErrCodeInvalidSignature    = "INVALID_SIGNATURE"
	ErrCodeMissingToken        = "MISSING_TOKEN"
	ErrCodeInvalidToken        = "INVALID_TOKEN"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeDailyLimitReached   = "DAILY_LIMIT_REACHED"
	ErrCodeEmailExists         = "EMAIL_EXISTS"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeBillingUnavailable  = "BILLING_UNAVAILABLE"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエストボディが解釈できない場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Send a JSON body matching the documented request format.",
	}
}

// NewMissingFieldsError は必須項目が欠けている場合のエラーを生成する。
// messageには原因となった項目名を含める。
func NewMissingFieldsError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingFields,
		Message:  message,
		Category: "validation",
		Action:   "Fill in all required fields and try again.",
	}
}

// NewPasswordTooLongError はパスワードがハッシュ可能な長さを超えた場合のエラーを生成する。
func NewPasswordTooLongError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordTooLong,
		Message:  "Password must be at most 72 bytes long",
		Category: "validation",
		Action:   "Choose a shorter password.",
	}
}

// NewInvalidPlanError はチェックアウト対象外のプランが指定された場合のエラーを生成する。
func NewInvalidPlanError(plan string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPlan,
		Message:  fmt.Sprintf("Invalid plan selected: %q", plan),
		Category: "validation",
		Action:   "Choose either premium or premiumPlus.",
	}
}

// NewInvalidSignatureError はWebhookの署名検証に失敗した場合のエラーを生成する。
func NewInvalidSignatureError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  fmt.Sprintf("Webhook Error: %s", reason),
		Category: "billing",
		Action:   "Check the webhook signing secret.",
	}
}

// NewMissingTokenError はAuthorizationヘッダーがない場合のエラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingToken,
		Message:  "Authorization header missing",
		Category: "auth",
		Action:   "Log in and send the token in the Authorization header.",
	}
}

// NewInvalidTokenError はトークンが不正・期限切れの場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "Invalid or expired token",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewUserNotFoundError はトークンは有効だがユーザーが存在しない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "Invalid token: user not found",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが一致しない場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}

// NewEmailExistsError は登録済みメールアドレスで新規登録しようとした場合のエラーを生成する。
func NewEmailExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailExists,
		Message:  "Email already exists",
		Category: "auth",
		Action:   "Log in with this email or use another address.",
	}
}

// NewUpstreamUnavailableError は生成AIサービスの呼び出しに失敗した場合のエラーを生成する。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "Error contacting Gemini AI service",
		Category: "upstream",
		Action:   "Please try again in a moment.",
	}
}

// NewBillingUnavailableError は決済サービスの呼び出しに失敗した場合のエラーを生成する。
func NewBillingUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBillingUnavailable,
		Message:  "Failed to create Stripe session",
		Category: "billing",
		Action:   "Please try again in a moment.",
	}
}

// NewRateLimitExceededError は短時間にリクエストが集中した場合のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Server error",
		Category: "system",
		Action:   "Please try again later.",
	}
}

// DailyLimitError は当日の質問数が上限に達した場合のエラー。
// レスポンスに上限値とプランを含めるためAPIErrorを拡張する。
type DailyLimitError struct {
	APIError
	DailyLimit int
	Plan       Plan
}

// NewDailyLimitError はDailyLimitErrorを生成する。
func NewDailyLimitError(limit int, plan Plan) *DailyLimitError {
	return &DailyLimitError{
		APIError: APIError{
			Code:     ErrCodeDailyLimitReached,
			Message:  "Daily limit reached. Please upgrade your plan.",
			Category: "quota",
			Action:   "Upgrade your plan or come back tomorrow.",
		},
		DailyLimit: limit,
		Plan:       plan,
	}
}

// Unwrap はerrors.Asで*APIErrorとしても扱えるようにする。
func (e *DailyLimitError) Unwrap() error {
	return &e.APIError
}
