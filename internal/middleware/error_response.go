package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedbackdesk/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法、フロントエンドの遷移先を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Redirect string `json:"redirect,omitempty"`
}

// statusByCode はエラーコードとHTTPステータスの対応表。
// 対象の不存在はNOT_AUTHORIZEDに含まれるため404は使わない。
var statusByCode = map[string]int{
	model.ErrCodeValidation:             http.StatusBadRequest,
	model.ErrCodeAccountNotFound:        http.StatusUnauthorized,
	model.ErrCodeInvalidCredentials:     http.StatusUnauthorized,
	model.ErrCodeOTPRequired:            http.StatusUnauthorized,
	model.ErrCodeInvalidOTP:             http.StatusUnauthorized,
	model.ErrCodeOTPExpired:             http.StatusUnauthorized,
	model.ErrCodeNoPendingOTP:           http.StatusUnauthorized,
	model.ErrCodeUnauthorized:           http.StatusUnauthorized,
	model.ErrCodeNotAuthorized:          http.StatusForbidden,
	model.ErrCodeInvalidEmployee:        http.StatusForbidden,
	model.ErrCodeCSRFTokenInvalid:       http.StatusForbidden,
	model.ErrCodeEmailAlreadyRegistered: http.StatusConflict,
	model.ErrCodeNoDirectReports:        http.StatusUnprocessableEntity,
	model.ErrCodeRateLimitExceeded:      http.StatusTooManyRequests,
	model.ErrCodeExportFailed:           http.StatusBadGateway,
	model.ErrCodeInternal:               http.StatusInternalServerError,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。未知のコードは500。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteAPIError はエラーコードから決まるステータスで統一エラーレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
}

// WriteErrorResponse は指定ステータスで統一エラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Redirect: apiErr.Redirect,
	})
	if err != nil {
		slog.Warn("failed to write error response",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
}

// WriteInternalServerError は内部エラーの統一レスポンスを書き込む。
// 詳細はログにのみ残し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}
