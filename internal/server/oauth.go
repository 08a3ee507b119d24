package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Evoltonnac/quota-board/pkg/api"
)

type callbackRequest struct {
	Code        string `json:"code" binding:"required"`
	State       string `json:"state,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// handleAuthorize redirects the browser to the provider's authorization
// endpoint, storing the PKCE verifier for the later callback
func (s *Server) handleAuthorize(c *gin.Context) {
	def, ok := s.sourceParam(c)
	if !ok {
		return
	}

	handler := s.auth.OAuthHandler(def.ID)
	if handler == nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("no oauth configured for source: %s", def.ID),
			Status: http.StatusNotFound,
		})
		return
	}

	redirectURI := c.Query("redirect_uri")
	if redirectURI == "" {
		redirectURI = handler.Config().RedirectURI
	}

	url, err := handler.AuthorizeURL(c.Request.Context(), redirectURI)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.Redirect(http.StatusFound, url)
}

// handleCallback exchanges the authorization code for a token bundle
// and re-drives the fetch
func (s *Server) handleCallback(c *gin.Context) {
	def, ok := s.sourceParam(c)
	if !ok {
		return
	}

	handler := s.auth.OAuthHandler(def.ID)
	if handler == nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("no oauth configured for source: %s", def.ID),
			Status: http.StatusNotFound,
		})
		return
	}

	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = handler.Config().RedirectURI
	}

	ctx := c.Request.Context()
	if err := handler.ExchangeCode(ctx, req.Code, redirectURI); err != nil {
		c.JSON(http.StatusBadGateway, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadGateway,
		})
		return
	}

	s.executor.UpdateSourceState(
		ctx, def.ID, api.StatusRefreshing, "Authorization completed", nil,
	)
	go s.executor.FetchSource(context.Background(), def)

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"source_id": def.ID,
	})
}
