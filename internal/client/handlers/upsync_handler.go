package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/openmined/syftmail/internal/client/upsyncmgr"
)

// PassRunner runs upsync passes on demand.
type PassRunner interface {
	HasAccount(accountID string) bool
	RunPass(ctx context.Context, accountID string) (*upsyncmgr.PassReport, error)
	Preview(ctx context.Context, accountID string) (*upsyncmgr.PassReport, error)
}

// PendingSource summarizes the change log of an account.
type PendingSource interface {
	Summary(ctx context.Context, accountID string) (*upsync.JournalSummary, error)
}

type UpsyncHandler struct {
	runner  PassRunner
	pending PendingSource
}

func NewUpsyncHandler(runner PassRunner, pending PendingSource) *UpsyncHandler {
	return &UpsyncHandler{
		runner:  runner,
		pending: pending,
	}
}

// Pending returns the number of pending changes of an account.
func (h *UpsyncHandler) Pending(ctx *gin.Context) {
	account := ctx.Param("account")
	if !h.runner.HasAccount(account) {
		AbortWithError(ctx, http.StatusNotFound, ErrCodeUnknownAccount, fmt.Errorf("%w: %s", upsyncmgr.ErrUnknownAccount, account))
		return
	}

	summary, err := h.pending.Summary(ctx.Request.Context(), account)
	if err != nil {
		AbortWithError(ctx, http.StatusInternalServerError, ErrCodeUnknownError, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &PendingResponse{JournalSummary: summary})
}

// Upsync runs one pass for the account now. dry_run=true only reports what would be sent.
func (h *UpsyncHandler) Upsync(ctx *gin.Context) {
	var req UpsyncRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		AbortWithError(ctx, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	account := ctx.Param("account")
	run := h.runner.RunPass
	if req.DryRun {
		run = h.runner.Preview
	}

	report, err := run(ctx.Request.Context(), account)
	switch {
	case errors.Is(err, upsyncmgr.ErrUnknownAccount):
		AbortWithError(ctx, http.StatusNotFound, ErrCodeUnknownAccount, err)
	case errors.Is(err, upsyncmgr.ErrPassAlreadyRunning), errors.Is(err, upsyncmgr.ErrAccountLocked):
		AbortWithError(ctx, http.StatusConflict, ErrCodePassInProgress, err)
	case err != nil:
		AbortWithError(ctx, http.StatusInternalServerError, ErrCodeUnknownError, err)
	default:
		ctx.PureJSON(http.StatusOK, &UpsyncResponse{Code: CodeOk, Report: report})
	}
}
