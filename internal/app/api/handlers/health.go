package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumichat/billing/pkg/response"
)

func RegisterHealthRoutes(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, response.OKT("ok"))
	})
}
