package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the service routes onto a fresh gin engine.
func NewRouter(h *Handler, release bool) *gin.Engine {
	if release {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(corsMiddleware())

	router.GET("/health", h.Health)
	router.POST("/predict", h.Predict)
	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
