package api

import (
	"net/http"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/gin-gonic/gin"
)

// SearchRequest is the body of a trial search
type SearchRequest struct {
	domain.SearchFilters
	PageToken string `json:"page_token,omitempty"`
}

// handleSearchTrials returns one page of normalized trials
func (s *Server) handleSearchTrials(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, bindError(err), nil)
		return
	}
	page, err := s.app.Trials.Search(c.Request.Context(), req.SearchFilters, req.PageToken)
	if err != nil {
		s.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, page)
}

// handleGetTrial returns one trial by NCT id
func (s *Server) handleGetTrial(c *gin.Context) {
	trial, err := s.app.Trials.GetTrial(c.Request.Context(), c.Param("nct_id"))
	if err != nil {
		s.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, trial)
}
