package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/openmined/syftmail/internal/client/upsyncmgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	err     error
	dryRuns int
	runs    int
}

func (f *fakeRunner) HasAccount(accountID string) bool { return accountID == "alice" }

func (f *fakeRunner) RunPass(_ context.Context, accountID string) (*upsyncmgr.PassReport, error) {
	f.runs++
	return f.report(accountID, false)
}

func (f *fakeRunner) Preview(_ context.Context, accountID string) (*upsyncmgr.PassReport, error) {
	f.dryRuns++
	return f.report(accountID, true)
}

func (f *fakeRunner) report(accountID string, dryRun bool) (*upsyncmgr.PassReport, error) {
	if !f.HasAccount(accountID) {
		return nil, upsyncmgr.ErrUnknownAccount
	}
	if f.err != nil {
		return nil, f.err
	}
	return &upsyncmgr.PassReport{AccountID: accountID, DryRun: dryRun, Upsynced: 2}, nil
}

type fakePending struct {
	err error
}

func (f *fakePending) Summary(_ context.Context, accountID string) (*upsync.JournalSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &upsync.JournalSummary{AccountID: accountID, Pending: 5, Items: 2}, nil
}

func newUpsyncRouter(h *UpsyncHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/accounts/:account/pending", h.Pending)
	r.POST("/v1/accounts/:account/upsync", h.Upsync)
	return r
}

func TestUpsyncHandler_Pending(t *testing.T) {
	cases := []struct {
		name    string
		account string
		err     error
		status  int
	}{
		{name: "known account", account: "alice", status: http.StatusOK},
		{name: "unknown account", account: "bob", status: http.StatusNotFound},
		{name: "store failure", account: "alice", err: errors.New("disk"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newUpsyncRouter(NewUpsyncHandler(&fakeRunner{}, &fakePending{err: tc.err}))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/"+tc.account+"/pending", nil))

			require.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				var resp upsync.JournalSummary
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, 5, resp.Pending)
				assert.Equal(t, 2, resp.Items)
			}
		})
	}
}

func TestUpsyncHandler_Upsync(t *testing.T) {
	cases := []struct {
		name   string
		target string
		err    error
		status int
		code   string
	}{
		{name: "run", target: "/v1/accounts/alice/upsync", status: http.StatusOK, code: CodeOk},
		{name: "dry run", target: "/v1/accounts/alice/upsync?dry_run=true", status: http.StatusOK, code: CodeOk},
		{name: "bad query", target: "/v1/accounts/alice/upsync?dry_run=maybe", status: http.StatusBadRequest, code: ErrCodeBadRequest},
		{name: "unknown account", target: "/v1/accounts/bob/upsync", status: http.StatusNotFound, code: ErrCodeUnknownAccount},
		{name: "already running", target: "/v1/accounts/alice/upsync", err: upsyncmgr.ErrPassAlreadyRunning, status: http.StatusConflict, code: ErrCodePassInProgress},
		{name: "locked", target: "/v1/accounts/alice/upsync", err: upsyncmgr.ErrAccountLocked, status: http.StatusConflict, code: ErrCodePassInProgress},
		{name: "failure", target: "/v1/accounts/alice/upsync", err: errors.New("boom"), status: http.StatusInternalServerError, code: ErrCodeUnknownError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{err: tc.err}
			r := newUpsyncRouter(NewUpsyncHandler(runner, &fakePending{}))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tc.target, nil))

			require.Equal(t, tc.status, w.Code)
			var body struct {
				Code   string                `json:"code"`
				Report *upsyncmgr.PassReport `json:"report"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Code)
			if tc.name == "dry run" {
				assert.Equal(t, 1, runner.dryRuns)
				assert.Equal(t, 0, runner.runs)
				assert.True(t, body.Report.DryRun)
			}
		})
	}
}
