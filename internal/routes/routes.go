package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smsconfirm/internal/handlers"
	"smsconfirm/internal/middleware"
)

func SetupRoutes(
	r *gin.Engine,
	accountHandler *handlers.AccountHandler,
	confirmationHandler *handlers.ConfirmationHandler,
	jwtSecret []byte,
) *gin.Engine {

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ---- public: регистрация и подтверждение кода токена не требуют
	r.POST("/accounts", accountHandler.Register)
	r.POST("/confirmations/confirm", confirmationHandler.Confirm)
	r.POST("/confirmations/resend", confirmationHandler.Resend)

	// ---- protected (JWT)
	accounts := r.Group("/accounts", middleware.AuthMiddleware(jwtSecret))
	{
		accounts.GET("/:id", accountHandler.GetByID)
		accounts.GET("/:id/status", accountHandler.Status)
		accounts.PATCH("/:id/phone", accountHandler.UpdatePhoneNumber)
	}

	return r
}
