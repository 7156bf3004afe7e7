package routes

import (
	"net/http"
	"strings"

	"emergency-knowledge-service/services"
	"emergency-knowledge-service/utils"

	"github.com/gin-gonic/gin"
)

type searchRequest struct {
	Query     string         `json:"query"`
	Filter    map[string]any `json:"filter"`
	Threshold *float64       `json:"threshold"`
	Count     int            `json:"count"`
}

// HandleSearch answers a retrieval query with ranked passages.
func HandleSearch(retrieval *services.RetrievalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"error": err.Error()})
			return
		}

		if strings.TrimSpace(req.Query) == "" {
			utils.RespondWithBadRequest(c, "Query must not be empty", nil)
			return
		}

		// Absent threshold means "use the configured default"; an explicit
		// zero is forwarded untouched.
		threshold := -1.0
		if req.Threshold != nil {
			threshold = *req.Threshold
		}

		passages, err := retrieval.Retrieve(c.Request.Context(), req.Query, req.Filter, threshold, req.Count)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"passages": passages,
			"count":    len(passages),
		})
	}
}
