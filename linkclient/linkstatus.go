package linkclient

import (
	"sync"
	"time"
)

const (

	// Various states for API consumers to take action
	STATE_STARTING    = "starting"
	STATE_READY       = "ready"
	STATE_NO_SESSION  = "nosession"
	STATE_UNREACHABLE = "unreachable"
)

type StatusInfo struct {
	Endpoint  string `json:"endpoint"`
	IsPrimary bool   `json:"isprimary"`

	LastRefresh int64  `json:"lastrefresh"`
	Round       uint64 `json:"round"`

	Identity   string `json:"identity"`
	Provider   string `json:"provider"`
	Authorized bool   `json:"authorized"`

	State    string `json:"state"`
	ErrorMsg string `json:"error"`
}

// LinkStatus is the daemon state shown on /api/status
type LinkStatus struct {
	info StatusInfo
	lock sync.RWMutex
}

func NewLinkStatus() *LinkStatus {
	return &LinkStatus{info: StatusInfo{State: STATE_STARTING}}
}

func (s *LinkStatus) SetRefreshed(round uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.info.LastRefresh = time.Now().Unix()
	s.info.Round = round
}

func (s *LinkStatus) SetEndpoint(endpoint string, isPrimary bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.info.Endpoint = endpoint
	s.info.IsPrimary = isPrimary
}

func (s *LinkStatus) SetSession(identity, provider string, authorized bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.info.Identity = identity
	s.info.Provider = provider
	s.info.Authorized = authorized
}

func (s *LinkStatus) SetError(e error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.info.ErrorMsg = e.Error()
}

func (s *LinkStatus) ClearError() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.info.ErrorMsg = ""
}

func (s *LinkStatus) SetState(state string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.info.State = state
}

func (s *LinkStatus) Snapshot() StatusInfo {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.info
}
