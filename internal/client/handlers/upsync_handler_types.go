package handlers

import (
	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/openmined/syftmail/internal/client/upsyncmgr"
)

// PendingResponse is the change log summary of one account.
type PendingResponse struct {
	*upsync.JournalSummary
}

// UpsyncRequest are the optional parameters of a manual pass.
type UpsyncRequest struct {
	DryRun bool `form:"dry_run" json:"dryRun"`
}

// UpsyncResponse is the report of a manual pass.
type UpsyncResponse struct {
	Code   string                `json:"code"`
	Report *upsyncmgr.PassReport `json:"report"`
}
