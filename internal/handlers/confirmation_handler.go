package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"smsconfirm/internal/services"
)

type ConfirmationHandler struct {
	Service *services.ConfirmationService
}

func NewConfirmationHandler(service *services.ConfirmationService) *ConfirmationHandler {
	return &ConfirmationHandler{Service: service}
}

// Confirm — приём кода из SMS. Тело: {"confirmation_token": "..."}.
func (h *ConfirmationHandler) Confirm(c *gin.Context) {
	var req struct {
		ConfirmationToken string `json:"confirmation_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, ok, err := h.Service.ConfirmByToken(req.ConfirmationToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "confirmation failed"})
		return
	}
	if !ok {
		if respondDomainErrors(c, account) {
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Phone number confirmed", "account": account})
}

// Resend — повторная отправка кода по номеру телефона.
// Тело: {"phone_number": "..."}.
func (h *ConfirmationHandler) Resend(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phone_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.Service.FindForConfirmationInstructions(map[string]string{
		"phone_number": req.PhoneNumber,
	})
	switch {
	case errors.Is(err, services.ErrResendThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, try later"})
		return
	case errors.Is(err, services.ErrDeliveryFailed):
		// токен перегенерирован и записан, просто SMS не ушла
		c.JSON(http.StatusBadGateway, gin.H{"error": "sms delivery failed, try resend later"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resend failed"})
		return
	}
	if respondDomainErrors(c, account) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "SMS sent"})
}
