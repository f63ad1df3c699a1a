package controllers

import (
	"github.com/gin-gonic/gin"

	"integrator/version"
)

// GET /api/_canary
//
// Answers without touching the store so a deploy can be checked on its own.
func Canary(c *gin.Context) {
	c.Header("x-fw-canary", "api/_canary@"+version.HandlerVersion)
	RespondSuccess(c, gin.H{"where": "api/_canary"})
}
