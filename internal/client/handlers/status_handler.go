package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftmail/internal/client/upsyncmgr"
	"github.com/openmined/syftmail/internal/version"
)

// PassStatusSource reports the pass state of every account.
type PassStatusSource interface {
	Status() []upsyncmgr.AccountStatus
}

// StatusHandler handles status-related endpoints
type StatusHandler struct {
	mgr PassStatusSource
}

func NewStatusHandler(mgr PassStatusSource) *StatusHandler {
	return &StatusHandler{
		mgr: mgr,
	}
}

// Status returns the client version and the last upsync pass of every account.
func (h *StatusHandler) Status(ctx *gin.Context) {
	if h.mgr == nil {
		ctx.PureJSON(http.StatusServiceUnavailable, &ControlPlaneError{
			ErrorCode: ErrCodeUpsyncNotReady,
			Error:     "upsync manager not initialized",
		})
		return
	}

	ctx.PureJSON(http.StatusOK, &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		BuildDate: version.BuildDate,
		Accounts:  h.mgr.Status(),
	})
}
