package linkclient

import (
	"satslink/util"
)

// Agent is the caller identity attached to gateway calls
type Agent struct {
	Sender util.Principal
	Token  string // bearer delegation, empty for anonymous calls
}

func AnonymousAgent() *Agent {
	return &Agent{Sender: util.AnonymousPrincipal}
}

func NewAgent(sender util.Principal, token string) *Agent {
	return &Agent{Sender: sender, Token: token}
}

func (a *Agent) IsAnonymous() bool {
	return a == nil || a.Sender.IsAnonymous()
}
