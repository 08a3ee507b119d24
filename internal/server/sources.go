package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Evoltonnac/quota-board/pkg/api"
)

type interactRequest struct {
	// Values are written to the secrets store before the retry
	Values map[api.Name]any `json:"values,omitempty"`

	// Action distinguishes a plain retry from a credential submission
	Action string `json:"action,omitempty"`
}

func (s *Server) listSources(c *gin.Context) {
	var res []api.SourceSummary
	for _, def := range s.catalog.Sources() {
		st := s.executor.SourceState(def.ID)
		status := st.Status
		if !def.IsEnabled() {
			status = api.StatusDisabled
		}
		res = append(res, api.SourceSummary{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Icon:        def.Icon,
			Enabled:     def.IsEnabled(),
			Status:      status,
			Message:     st.Message,
		})
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getSourceState(c *gin.Context) {
	def, ok := s.sourceParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.executor.SourceState(def.ID))
}

func (s *Server) getSourceData(c *gin.Context) {
	def, ok := s.sourceParam(c)
	if !ok {
		return
	}

	record, err := s.sink.Latest(c.Request.Context(), def.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("no data for source: %s", def.ID),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) refreshSource(c *gin.Context) {
	def, ok := s.sourceParam(c)
	if !ok {
		return
	}

	go s.executor.FetchSource(context.Background(), def)
	c.JSON(http.StatusAccepted, gin.H{
		"status":    string(api.StatusRefreshing),
		"source_id": def.ID,
	})
}

func (s *Server) refreshAll(c *gin.Context) {
	defs := s.catalog.EnabledSources()
	for _, def := range defs {
		go s.executor.FetchSource(context.Background(), def)
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status": string(api.StatusRefreshing),
		"count":  len(defs),
	})
}

// handleInteract resumes a suspended source. Submitted values are
// merged into the secrets store, then the fetch is re-driven
func (s *Server) handleInteract(c *gin.Context) {
	def, ok := s.sourceParam(c)
	if !ok {
		return
	}

	var req interactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	ctx := c.Request.Context()
	if len(req.Values) > 0 {
		if err := s.secrets.SetAll(ctx, def.ID, req.Values); err != nil {
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{
				Error:  err.Error(),
				Status: http.StatusInternalServerError,
			})
			return
		}
	}

	s.auth.ClearError(def.ID)
	s.executor.UpdateSourceState(
		ctx, def.ID, api.StatusRefreshing, "Retrying with provided input", nil,
	)
	go s.executor.FetchSource(context.Background(), def)

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"source_id": def.ID,
	})
}

func (s *Server) getAuthStatus(c *gin.Context) {
	def, ok := s.sourceParam(c)
	if !ok {
		return
	}

	handler := s.auth.OAuthHandler(def.ID)
	c.JSON(http.StatusOK, api.AuthStatus{
		SourceID:          def.ID,
		HasOAuth:          handler != nil,
		HasToken:          handler != nil && handler.HasToken(),
		RegistrationError: s.auth.SourceError(def.ID),
	})
}

func (s *Server) sourceParam(c *gin.Context) (*api.SourceDefinition, bool) {
	id := api.SourceID(c.Param("sourceID"))
	def, ok := s.catalog.Source(id)
	if !ok {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("unknown source: %s", id),
			Status: http.StatusNotFound,
		})
		return nil, false
	}
	return def, true
}
