package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paymirror/internal/mode"
)

// modeResponse never carries the secret key or webhook secret. The
// publishable key is safe by definition.
type modeResponse struct {
	Mode           string `json:"mode"`
	LiveMode       bool   `json:"live_mode"`
	PublishableKey string `json:"publishable_key,omitempty"`
	HasCredentials bool   `json:"has_credentials"`
}

func newModeResponse(mc mode.Context) modeResponse {
	return modeResponse{
		Mode:           mc.Mode,
		LiveMode:       mc.LiveMode(),
		PublishableKey: mc.PublishableKey,
		HasCredentials: mc.HasCredentials(),
	}
}

func (s *Server) GetMode(c *gin.Context) {
	c.JSON(http.StatusOK, newModeResponse(s.modeHolder.Current()))
}

type switchModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) SwitchMode(c *gin.Context) {
	var req switchModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	mc, err := s.modeHolder.Switch(strings.TrimSpace(req.Mode))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newModeResponse(mc))
}
