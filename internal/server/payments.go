package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"
	paymentdomain "github.com/smallbiznis/paymirror/internal/payment/domain"
	"github.com/smallbiznis/paymirror/internal/providers/pdf"
	"github.com/smallbiznis/paymirror/pkg/db/pagination"
)

type createPaymentRequest struct {
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
	Description      string `json:"description"`
	CustomerEmail    string `json:"customer_email"`
}

func (s *Server) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	mc := s.modeHolder.Current()
	resp, err := s.paymentSvc.CreatePayment(c.Request.Context(), mc, paymentdomain.CreatePaymentRequest{
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         strings.TrimSpace(req.Currency),
		Description:      strings.TrimSpace(req.Description),
		CustomerEmail:    strings.TrimSpace(req.CustomerEmail),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetPayment(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))
	if externalID == "" {
		AbortWithError(c, ErrNotFound)
		return
	}

	payment, err := s.paymentSvc.GetPayment(c.Request.Context(), externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (s *Server) ListPayments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		LiveMode string `form:"live_mode"`
		Status   string `form:"status"`
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

	resp, err := s.paymentSvc.ListPayments(c.Request.Context(), paymentdomain.ListPaymentsRequest{
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
		LiveMode:  liveMode,
		Status:    strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ReconcilePayment(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))
	if externalID == "" {
		AbortWithError(c, ErrNotFound)
		return
	}

	mc := s.modeHolder.Current()
	payment, err := s.paymentSvc.ReconcilePaymentStatus(c.Request.Context(), mc, externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (s *Server) ListPaymentRefunds(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))
	if externalID == "" {
		AbortWithError(c, ErrNotFound)
		return
	}

	refunds, err := s.paymentSvc.ListRefundsForPayment(c.Request.Context(), externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

const receiptDateLayout = "January 2, 2006"

func (s *Server) GetPaymentReceipt(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))
	if externalID == "" {
		AbortWithError(c, ErrNotFound)
		return
	}

	payment, err := s.paymentSvc.GetPayment(c.Request.Context(), externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if payment.Status != paymentdomain.PaymentStatusSucceeded {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse{Error: errorPayload{
			Code:    "receipt_unavailable",
			Message: "receipts exist only for succeeded payments",
		}})
		return
	}

	refunds, err := s.paymentSvc.ListRefundsForPayment(c.Request.Context(), externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := buildReceiptData(s.cfg.AppName, payment, refunds)
	doc, err := s.pdfProvider.GenerateReceipt(c.Request.Context(), data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body, err := io.ReadAll(doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", receiptFilename(payment)))
	c.Data(http.StatusOK, "application/pdf", body)
}

// buildReceiptData formats the money and dates up front; the renderer only
// places strings.
func buildReceiptData(businessName string, payment paymentdomain.PaymentRecord, refunds []paymentdomain.RefundRecord) pdf.ReceiptData {
	data := pdf.ReceiptData{
		BusinessName:  businessName,
		ReceiptNumber: payment.ExternalPaymentID,
		DatePaid:      payment.UpdatedAt.Format(receiptDateLayout),
		Description:   payment.Description,
		CustomerEmail: payment.CustomerEmail,
		AmountPaid:    pdf.FormatAmount(payment.AmountMinorUnits, payment.Currency),
		TestMode:      !payment.LiveMode,
	}

	if payment.PaymentMethodBrand != "" && payment.CardLast4 != "" {
		data.CardSummary = payment.PaymentMethodBrand + " ending in " + payment.CardLast4
	}
	if payment.ProviderFeeMinorUnits != nil {
		data.FeeAmount = pdf.FormatAmount(*payment.ProviderFeeMinorUnits, payment.Currency)
	}

	// Only settled refunds belong on a customer-facing document.
	var refunded int64
	for _, refund := range refunds {
		if refund.Status != paymentdomain.RefundStatusSucceeded {
			continue
		}
		refunded += refund.AmountMinorUnits
		data.Refunds = append(data.Refunds, pdf.ReceiptRefund{
			RefundID: refund.ExternalRefundID,
			Date:     refund.UpdatedAt.Format(receiptDateLayout),
			Reason:   string(refund.Reason),
			Amount:   pdf.FormatAmount(refund.AmountMinorUnits, refund.Currency),
		})
	}
	if len(data.Refunds) > 0 {
		data.NetAmount = pdf.FormatAmount(payment.AmountMinorUnits-refunded, payment.Currency)
	}

	return data
}

func receiptFilename(payment paymentdomain.PaymentRecord) string {
	name := slug.Make(payment.Description)
	if name == "" {
		return fmt.Sprintf("receipt-%s.pdf", payment.ExternalPaymentID)
	}
	return fmt.Sprintf("receipt-%s-%s.pdf", name, payment.ExternalPaymentID)
}
