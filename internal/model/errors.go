package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法、遷移先ページを含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, auth, authorization, conflict, system
	Action   string // ユーザー向け対処方法
	Redirect string // フロントエンドの遷移先（空の場合は現在のページに留まる）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeOTPRequired            = "OTP_REQUIRED"
	ErrCodeInvalidOTP             = "INVALID_OTP"
	ErrCodeOTPExpired             = "OTP_EXPIRED"
	ErrCodeNoPendingOTP           = "NO_PENDING_OTP"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeNotAuthorized          = "NOT_AUTHORIZED"
	ErrCodeInvalidEmployee        = "INVALID_EMPLOYEE"
	ErrCodeNoDirectReports        = "NO_DIRECT_REPORTS"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeExportFailed           = "EXPORT_FAILED"
	ErrCodeCSRFTokenInvalid       = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// 遷移先ページ
const (
	PathLogin     = "/login"
	PathOTP       = "/otp"
	PathRegister  = "/register"
	PathDashboard = "/dashboard"
)

// NewValidationError は入力値エラーを生成する。
func NewValidationError(message, action string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   action,
	}
}

// NewAccountNotFoundError は未登録メールアドレスでのログインエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "このメールアドレスのアカウントは見つかりません。",
		Category: "auth",
		Action:   "先にアカウントを登録してください。",
		Redirect: PathRegister,
	}
}

// NewInvalidCredentialsError はパスワード不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewOTPRequiredError はステップアップ認証が必要な場合のエラーを生成する。
func NewOTPRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPRequired,
		Message:  "ログインに複数回失敗したため、確認コードをメールで送信しました。",
		Category: "auth",
		Action:   "メールに記載された6桁のコードを入力してください。",
		Redirect: PathOTP,
	}
}

// NewInvalidOTPError は確認コード不一致エラーを生成する。
// remainingが0の場合はチャレンジが破棄されたためログインページへ戻す。
func NewInvalidOTPError(remaining int) *APIError {
	e := &APIError{
		Code:     ErrCodeInvalidOTP,
		Message:  "確認コードが正しくないか、有効期限が切れています。",
		Category: "auth",
		Action:   fmt.Sprintf("コードを確認して再度入力してください（残り%d回）。アカウントをお持ちでない場合は先に登録してください。", remaining),
		Redirect: PathOTP,
	}
	if remaining <= 0 {
		e.Action = "もう一度ログインからやり直してください。アカウントをお持ちでない場合は先に登録してください。"
		e.Redirect = PathLogin
	}
	return e
}

// NewOTPExpiredError は確認コードの有効期限切れエラーを生成する。
func NewOTPExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPExpired,
		Message:  "確認コードの有効期限が切れています。",
		Category: "auth",
		Action:   "もう一度ログインからやり直してください。",
		Redirect: PathLogin,
	}
}

// NewNoPendingOTPError は発行済みの確認コードが存在しない場合のエラーを生成する。
func NewNoPendingOTPError() *APIError {
	return &APIError{
		Code:     ErrCodeNoPendingOTP,
		Message:  "確認待ちのコードがありません。",
		Category: "auth",
		Action:   "ログインからやり直してください。",
		Redirect: PathLogin,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
		Redirect: PathLogin,
	}
}

// NewNotAuthorizedError は権限エラーを生成する。
// 対象が存在しない場合も同じエラーを返し、存在有無を区別させない。
func NewNotAuthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthorized,
		Message:  "この操作を行う権限がありません。",
		Category: "authorization",
		Action:   "ダッシュボードに戻ってください。",
		Redirect: PathDashboard,
	}
}

// NewStaleRoleError はセッションのロールがユーザーストアと一致しない場合のエラーを生成する。
func NewStaleRoleError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthorized,
		Message:  "この操作を行う権限がありません。",
		Category: "authorization",
		Action:   "ログインし直してください。",
		Redirect: PathLogin,
	}
}

// NewInvalidEmployeeError は部下ではない従業員を選択した場合のエラーを生成する。
func NewInvalidEmployeeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmployee,
		Message:  "選択された従業員は無効です。",
		Category: "authorization",
		Action:   "一覧から自分の部下を選択してください。",
		Redirect: PathDashboard,
	}
}

// NewNoDirectReportsError は部下がいない、または従業員が未選択の場合のエラーを生成する。
func NewNoDirectReportsError() *APIError {
	return &APIError{
		Code:     ErrCodeNoDirectReports,
		Message:  "割り当てられた部下がいないか、従業員が選択されていません。",
		Category: "validation",
		Action:   "部下が登録されるまでお待ちいただくか、従業員を選択してください。",
		Redirect: PathDashboard,
	}
}

// NewEmailAlreadyRegisteredError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "conflict",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
		Redirect: PathLogin,
	}
}

// NewExportFailedError はドキュメント生成失敗エラーを生成する。
func NewExportFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeExportFailed,
		Message:  "ドキュメントの生成に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "リクエストの検証に失敗しました。",
		Category: "security",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
