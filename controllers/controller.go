package controllers

import (
	"github.com/gin-gonic/gin"

	"integrator/version"
)

// Every JSON body carries ok and the handler version (v); the version also
// goes out as a header so curl -D - shows what is live.
func respond(c *gin.Context, status int, ok bool, payload gin.H) {
	body := gin.H{}
	for k, v := range payload {
		body[k] = v
	}
	body["ok"] = ok
	body["v"] = version.HandlerVersion

	c.Header(version.Header, version.HandlerVersion)
	c.JSON(status, body)
}

func RespondError(c *gin.Context, status int, code string, extra gin.H) {
	payload := gin.H{}
	for k, v := range extra {
		payload[k] = v
	}
	payload["error"] = code
	respond(c, status, false, payload)
}

func RespondSuccess(c *gin.Context, payload gin.H) {
	respond(c, 200, true, payload)
}
