package controllers

import (
	"net/http"

	"github.com/gantryci/gantry/server/httpserver/auth"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Token string `json:"token"`
}

// Login exchanges the configured admin token for a signed JWT.
func (ctr *Controller) Login(c *gin.Context) {
	var req loginRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !auth.CheckAdminToken(req.Token) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
		return
	}
	token, err := auth.CreateToken("admin")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (ctr *Controller) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": ctr.version})
}
