package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"smsconfirm/internal/services"
)

type AccountHandler struct {
	Service *services.ConfirmationService
	// Проверять активность на логине (значение конфига, не глобальный флаг)
	AuthenticateOnLogin bool
}

func NewAccountHandler(service *services.ConfirmationService, authenticateOnLogin bool) *AccountHandler {
	return &AccountHandler{Service: service, AuthenticateOnLogin: authenticateOnLogin}
}

// Register — создание аккаунта с номером телефона. Флаги подавления
// действуют только на этот вызов.
func (h *AccountHandler) Register(c *gin.Context) {
	var req struct {
		PhoneNumber                  string `json:"phone_number" binding:"required"`
		SkipConfirmation             bool   `json:"skip_confirmation"`
		SkipConfirmationNotification bool   `json:"skip_confirmation_notification"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.Service.RegisterAccount(req.PhoneNumber, services.AccountOptions{
		SkipConfirmation:             req.SkipConfirmation,
		SkipConfirmationNotification: req.SkipConfirmationNotification,
	})
	switch {
	case errors.Is(err, services.ErrInvalidPhoneNumber):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
		return
	case errors.Is(err, services.ErrDeliveryFailed):
		// аккаунт и токен уже сохранены — отдаём created с предупреждением
		c.JSON(http.StatusCreated, gin.H{"account": account, "warning": "sms delivery failed, use resend"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	if respondDomainErrors(c, account) {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": account})
}

func (h *AccountHandler) GetByID(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	account, err := h.Service.GetAccount(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// UpdatePhoneNumber — смена номера. Для reconfirmable-типа смена
// откладывается до подтверждения кода, отправленного на новый номер.
func (h *AccountHandler) UpdatePhoneNumber(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req struct {
		PhoneNumber                  string `json:"phone_number" binding:"required"`
		SkipReconfirmation           bool   `json:"skip_reconfirmation"`
		SkipConfirmationNotification bool   `json:"skip_confirmation_notification"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.Service.GetAccount(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	err = h.Service.UpdatePhoneNumber(account, req.PhoneNumber, services.AccountOptions{
		SkipReconfirmation:           req.SkipReconfirmation,
		SkipConfirmationNotification: req.SkipConfirmationNotification,
	})
	switch {
	case errors.Is(err, services.ErrInvalidPhoneNumber):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
		return
	case errors.Is(err, services.ErrDeliveryFailed):
		c.JSON(http.StatusOK, gin.H{"account": account, "warning": "sms delivery failed, use resend"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if respondDomainErrors(c, account) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// Status — состояние подтверждения и активность для аутентификации.
func (h *AccountHandler) Status(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	account, err := h.Service.GetAccount(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	active := h.Service.ActiveForAuthentication(account)
	resp := gin.H{
		"confirmed":                 account.Confirmed(),
		"pending_reconfirmation":    account.PendingReconfirmation(),
		"active_for_authentication": active,
		"authenticate_on_login":     h.AuthenticateOnLogin,
	}
	if !active {
		resp["inactive_message"] = h.Service.InactiveMessage(account)
	}
	c.JSON(http.StatusOK, resp)
}
