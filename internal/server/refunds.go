package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paymirror/internal/payment/domain"
	"github.com/smallbiznis/paymirror/pkg/db/pagination"
)

type createRefundRequest struct {
	ExternalPaymentID string `json:"external_payment_id"`
	AmountMinorUnits  *int64 `json:"amount_minor_units"`
	Reason            string `json:"reason"`
	Notes             string `json:"notes"`
}

func (s *Server) CreateRefund(c *gin.Context) {
	var req createRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	mc := s.modeHolder.Current()
	refund, err := s.paymentSvc.CreateRefund(c.Request.Context(), mc, paymentdomain.CreateRefundRequest{
		ExternalPaymentID: strings.TrimSpace(req.ExternalPaymentID),
		AmountMinorUnits:  req.AmountMinorUnits,
		Reason:            paymentdomain.RefundReason(strings.TrimSpace(req.Reason)),
		Notes:             strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, refund)
}

func (s *Server) ListRefunds(c *gin.Context) {
	var query struct {
		pagination.Pagination
		LiveMode          string `form:"live_mode"`
		ExternalPaymentID string `form:"external_payment_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	liveMode, err := parseOptionalBool(query.LiveMode)
	if err != nil {
		AbortWithError(c, newValidationError("live_mode", "invalid_live_mode", "invalid live_mode"))
		return
	}

	resp, err := s.paymentSvc.ListRefunds(c.Request.Context(), paymentdomain.ListRefundsRequest{
		PageToken:         query.PageToken,
		PageSize:          query.PageSize,
		LiveMode:          liveMode,
		ExternalPaymentID: strings.TrimSpace(query.ExternalPaymentID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
