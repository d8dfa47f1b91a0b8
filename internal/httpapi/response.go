package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RespondOK sends a 200 OK envelope with success=true merged into data.
// Data must marshal to a JSON object; the success flag is injected by
// wrapping it in Envelope.
func RespondOK(c *gin.Context, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["success"] = true
	c.JSON(http.StatusOK, data)
}

// RespondCreated sends a 201 Created envelope.
func RespondCreated(c *gin.Context, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["success"] = true
	c.JSON(http.StatusCreated, data)
}
