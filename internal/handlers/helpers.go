package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"smsconfirm/internal/models"
)

func parseIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// respondDomainErrors — единое отображение доменных ошибок аккаунта в HTTP.
// true = ответ уже записан.
func respondDomainErrors(c *gin.Context, a *models.Account) bool {
	if a == nil || !a.Errors.Any() {
		return false
	}
	status := http.StatusBadRequest
	switch {
	case a.Errors.Has("phone_number", models.ErrCodeNotFound) ||
		a.Errors.Has("confirmation_token", models.ErrCodeNotFound):
		status = http.StatusNotFound
	case a.Errors.Has("phone_number", models.ErrCodeTaken):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": a.Errors.First(), "errors": a.Errors})
	return true
}
