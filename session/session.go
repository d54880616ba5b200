// Package session holds the daemon's auth state: who the caller is, which
// provider signed them in, and whether an action is currently in flight.
package session

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"satslink/linkclient"
	"satslink/util"
)

type Provider string

const (
	PROVIDER_MSQ Provider = "MSQ"
	PROVIDER_II  Provider = "II"
)

func IsValidProvider(p Provider) bool {
	return p == PROVIDER_MSQ || p == PROVIDER_II
}

// Store persists the session between restarts
type Store interface {
	SaveSession([]byte) error
	LoadSession() ([]byte, error)
	DeleteSession() error
}

// Listener is called after every authorize/deauthorize, outside the lock
type Listener func(authorized bool, provider Provider)

type saved struct {
	Identity   util.Principal `json:"identity"`
	Provider   Provider       `json:"provider"`
	Token      string         `json:"token"`
	EthAddress string         `json:"ethaddress,omitempty"`
}

type Info struct {
	Authorized bool     `json:"authorized"`
	Identity   string   `json:"identity,omitempty"`
	Provider   Provider `json:"provider,omitempty"`
	EthAddress string   `json:"ethaddress,omitempty"`
	Busy       bool     `json:"busy"`
}

type Session struct {
	identity   *util.Principal
	provider   Provider
	token      string
	ethAddress string

	anonymous *linkclient.Agent
	busy      bool

	listeners []Listener
	store     Store
	lock      sync.RWMutex
}

// New always creates the anonymous agent; store may be nil
func New(store Store) *Session {
	return &Session{
		anonymous: linkclient.AnonymousAgent(),
		store:     store,
	}
}

// Restore loads a persisted session without notifying listeners
func (s *Session) Restore() error {

	if s.store == nil {
		return nil
	}

	data, err := s.store.LoadSession()
	if err != nil {
		return errors.Wrap(err, "Unable to load session")
	}

	if len(data) == 0 {
		return nil
	}

	var sv saved
	if err := json.Unmarshal(data, &sv); err != nil {
		return errors.Wrap(err, "Unable to decode saved session")
	}

	if !IsValidProvider(sv.Provider) || sv.Identity.IsAnonymous() {
		return errors.Errorf("saved session is invalid (provider %q)", sv.Provider)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	id := sv.Identity
	s.identity = &id
	s.provider = sv.Provider
	s.token = sv.Token
	s.ethAddress = sv.EthAddress

	log.WithFields(log.Fields{
		"Identity": util.ShortPrincipal(id), "Provider": sv.Provider,
	}).Info("Restored session")

	return nil
}

func (s *Session) OnChange(l Listener) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.listeners = append(s.listeners, l)
}

// Authorize replaces the current session. ethAddress is optional and is
// stored in checksummed form.
func (s *Session) Authorize(identity util.Principal, provider Provider, token, ethAddress string) error {

	if identity.IsAnonymous() {
		return util.Err(util.ErrAuth, "cannot authorize the anonymous principal")
	}

	if !IsValidProvider(provider) {
		return util.Errf(util.ErrAuth, "unknown auth provider %q", provider)
	}

	if ethAddress != "" {
		normalized, err := util.NormalizeEthAddress(ethAddress)
		if err != nil {
			return util.WrapErr(util.ErrAuth, err, "Invalid session address")
		}
		ethAddress = normalized
	}

	s.lock.Lock()
	s.identity = &identity
	s.provider = provider
	s.token = token
	s.ethAddress = ethAddress
	listeners := append([]Listener(nil), s.listeners...)
	s.lock.Unlock()

	if err := s.persist(saved{Identity: identity, Provider: provider, Token: token, EthAddress: ethAddress}); err != nil {
		log.WithError(err).Error("Unable to persist session")
	}

	log.WithFields(log.Fields{
		"Identity": util.ShortPrincipal(identity), "Provider": provider,
	}).Info("Session authorized")

	for _, l := range listeners {
		l(true, provider)
	}

	return nil
}

func (s *Session) Deauthorize() error {

	s.lock.Lock()
	wasAuthorized := s.identity != nil
	s.identity = nil
	s.provider = ""
	s.token = ""
	s.ethAddress = ""
	listeners := append([]Listener(nil), s.listeners...)
	s.lock.Unlock()

	if s.store != nil {
		if err := s.store.DeleteSession(); err != nil {
			return errors.Wrap(err, "Unable to delete saved session")
		}
	}

	if !wasAuthorized {
		return nil
	}

	log.Info("Session deauthorized")

	for _, l := range listeners {
		l(false, "")
	}

	return nil
}

func (s *Session) persist(sv saved) error {

	if s.store == nil {
		return nil
	}

	data, err := json.Marshal(sv)
	if err != nil {
		return err
	}

	return s.store.SaveSession(data)
}

func (s *Session) IsAuthorized() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.identity != nil
}

// Identity returns the signed-in principal, if any
func (s *Session) Identity() (util.Principal, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.identity == nil {
		return util.Principal{}, false
	}

	return *s.identity, true
}

func (s *Session) Provider() Provider {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.provider
}

// EthAddress returns the external-chain address bound to the session
func (s *Session) EthAddress() (string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.identity == nil {
		return "", util.Err(util.ErrAuth, "not authorized")
	}

	if s.ethAddress == "" {
		return "", util.Err(util.ErrAuth, "Failed to get ETH address")
	}

	return s.ethAddress, nil
}

// Agent returns the authorized agent, or nil
func (s *Session) Agent() *linkclient.Agent {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.identity == nil {
		return nil
	}

	return linkclient.NewAgent(*s.identity, s.token)
}

func (s *Session) AnonymousAgent() *linkclient.Agent {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.anonymous
}

func (s *Session) AgentOrAnonymous() *linkclient.Agent {
	if a := s.Agent(); a != nil {
		return a
	}

	return s.AnonymousAgent()
}

func (s *Session) AssertReadyToFetch() error {
	if s.AnonymousAgent() == nil {
		return util.Err(util.ErrUnreachable, "Not ready to fetch")
	}

	return nil
}

func (s *Session) AssertAuthorized() error {
	if !s.IsAuthorized() {
		return util.Err(util.ErrAuth, "Not authorized")
	}

	return nil
}

// Disable marks an action as in flight. Only one action runs at a time.
func (s *Session) Disable() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.busy {
		return util.Err(util.ErrUnknown, "Another action is in progress")
	}
	s.busy = true

	return nil
}

func (s *Session) Enable() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.busy = false
}

func (s *Session) IsBusy() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.busy
}

func (s *Session) Info() Info {
	s.lock.RLock()
	defer s.lock.RUnlock()

	info := Info{Busy: s.busy}
	if s.identity != nil {
		info.Authorized = true
		info.Identity = s.identity.String()
		info.Provider = s.provider
		info.EthAddress = s.ethAddress
	}

	return info
}
