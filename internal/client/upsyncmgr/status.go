package upsyncmgr

import (
	"slices"
	"sync"
	"time"

	"github.com/openmined/syftmail/internal/client/upsync"
)

// PassState is where an account's upsync loop currently is.
type PassState string

const (
	PassStateIdle    PassState = "idle"
	PassStateRunning PassState = "running"
	PassStateDone    PassState = "done"
	PassStateError   PassState = "error"
)

// PassReport summarizes one completed pass.
type PassReport struct {
	AccountID   string             `json:"accountId" yaml:"account_id"`
	DryRun      bool               `json:"dryRun" yaml:"dry_run"`
	Diagnostics upsync.Diagnostics `json:"diagnostics" yaml:"diagnostics"`
	Requests    int                `json:"requests" yaml:"requests"`
	Upsynced    int                `json:"upsynced" yaml:"upsynced"`
	Retried     int                `json:"retried" yaml:"retried"`
	Duration    time.Duration      `json:"duration" yaml:"duration"`
}

// AccountStatus is the last known pass state of one account.
type AccountStatus struct {
	AccountID    string      `json:"accountId" yaml:"account_id"`
	State        PassState   `json:"state" yaml:"state"`
	Passes       int         `json:"passes" yaml:"passes"`
	LastStarted  time.Time   `json:"lastStarted" yaml:"last_started"`
	LastFinished time.Time   `json:"lastFinished" yaml:"last_finished"`
	LastReport   *PassReport `json:"lastReport,omitempty" yaml:"last_report,omitempty"`
	LastError    string      `json:"lastError,omitempty" yaml:"last_error,omitempty"`
}

// passStatus tracks AccountStatus per account.
type passStatus struct {
	accounts map[string]*AccountStatus
	mu       sync.RWMutex
}

func newPassStatus(accounts []string) *passStatus {
	s := &passStatus{accounts: make(map[string]*AccountStatus, len(accounts))}
	for _, acct := range accounts {
		s.accounts[acct] = &AccountStatus{AccountID: acct, State: PassStateIdle}
	}
	return s
}

func (s *passStatus) get(accountID string) *AccountStatus {
	st, ok := s.accounts[accountID]
	if !ok {
		st = &AccountStatus{AccountID: accountID, State: PassStateIdle}
		s.accounts[accountID] = st
	}
	return st
}

func (s *passStatus) start(accountID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(accountID)
	st.State = PassStateRunning
	st.LastStarted = at
}

func (s *passStatus) finish(accountID string, at time.Time, report *PassReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(accountID)
	st.Passes++
	st.LastFinished = at
	if report != nil {
		st.LastReport = report
	}
	if err != nil {
		st.State = PassStateError
		st.LastError = err.Error()
		return
	}
	st.State = PassStateDone
	st.LastError = ""
}

// snapshot returns copies ordered by account id.
func (s *passStatus) snapshot() []AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AccountStatus, 0, len(s.accounts))
	for _, st := range s.accounts {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b AccountStatus) int {
		if a.AccountID < b.AccountID {
			return -1
		}
		if a.AccountID > b.AccountID {
			return 1
		}
		return 0
	})
	return out
}
