package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/docquery/internal/middleware"
	"github.com/hitoshi/docquery/internal/model"
	"github.com/hitoshi/docquery/internal/query"
)

// QueryServiceInterface は質問ハンドラーが必要とするサービスインターフェース。
type QueryServiceInterface interface {
	Ask(ctx context.Context, user *model.User, pdfText, question string) (*query.Answer, error)
}

// QueryHandler は文書への質問を受け付けるHTTPハンドラー。
type QueryHandler struct {
	service QueryServiceInterface
}

// NewQueryHandler はQueryHandlerを生成する。
func NewQueryHandler(service QueryServiceInterface) *QueryHandler {
	return &QueryHandler{service: service}
}

type askRequest struct {
	PDFText  string `json:"pdfText"`
	Question string `json:"question"`
}

type askResponse struct {
	Answer string        `json:"answer"`
	Usage  usageResponse `json:"usage"`
}

// Ask は文書テキストと質問を受け取り、回答と利用状況を返す。
// POST /api/query
func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req askRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	answer, err := h.service.Ask(r.Context(), user, req.PDFText, req.Question)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, askResponse{
		Answer: answer.Text,
		Usage:  toUsageResponse(answer.Usage),
	})
}
