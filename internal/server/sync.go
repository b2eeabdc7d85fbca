package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paymirror/internal/observability/logger"
	"go.uber.org/zap"
)

func (s *Server) RunSync(c *gin.Context) {
	ctx := c.Request.Context()

	token, acquired, err := s.syncLocker.Acquire(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("sync lock acquire failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	if !acquired {
		AbortWithError(c, ErrSyncInProgress)
		return
	}
	defer func() {
		if err := s.syncLocker.Release(ctx, token); err != nil {
			logger.FromContext(ctx).Warn("sync lock release failed", zap.Error(err))
		}
	}()

	mc := s.modeHolder.Current()
	result, err := s.paymentSvc.SyncHistoricalData(ctx, mc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
