// Package credentials obtains a proof-of-uniqueness presentation for a
// principal. The staking canister verifies the presentation; this package
// only checks that what came back looks like a live JWT.
package credentials

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"satslink/util"
)

// Request describes the credential being asked for
type Request struct {
	IssuerOrigin     string `json:"issuer_origin"`
	IssuerCanister   string `json:"issuer_canister_id"`
	CredentialType   string `json:"credential_type"`
	Subject          string `json:"subject"`
	IdentityProvider string `json:"identity_provider"`
}

// Presenter turns a Request into a presentation JWT
type Presenter interface {
	Present(ctx context.Context, req Request) (string, error)
}

// Flow fills in the fixed parts of the request for each subject
type Flow struct {
	presenter Presenter

	issuerOrigin     string
	issuerCanister   string
	credentialType   string
	identityProvider string

	now func() time.Time
}

func NewFlow(presenter Presenter, nc *util.NetworkConstants) *Flow {
	return &Flow{
		presenter:        presenter,
		issuerOrigin:     nc.CredentialIssuer,
		issuerCanister:   nc.CredentialIssuerID,
		credentialType:   nc.CredentialType,
		identityProvider: nc.IdentityProvider,
		now:              time.Now,
	}
}

func (f *Flow) RequestFor(subject util.Principal) Request {
	return Request{
		IssuerOrigin:     f.issuerOrigin,
		IssuerCanister:   f.issuerCanister,
		CredentialType:   f.credentialType,
		Subject:          subject.String(),
		IdentityProvider: f.identityProvider,
	}
}

// RequestJWT asks the presenter for subject's credential and checks the
// token before handing it on.
func (f *Flow) RequestJWT(ctx context.Context, subject util.Principal) (string, error) {

	if subject.IsAnonymous() {
		return "", util.Err(util.ErrAuth, "anonymous principal cannot hold a credential")
	}

	tok, err := f.presenter.Present(ctx, f.RequestFor(subject))
	if err != nil {
		return "", err
	}

	if err := f.Inspect(tok); err != nil {
		return "", err
	}

	log.WithField("Subject", util.ShortPrincipal(subject)).Debug("Obtained credential presentation")

	return tok, nil
}

// Inspect parses tok without checking its signature. It must be well formed
// and, when it carries an expiry, not expired.
func (f *Flow) Inspect(tok string) error {

	claims := &jwt.RegisteredClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return util.WrapErr(util.ErrAuth, err, "Malformed credential presentation")
	}

	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(f.now()) {
		return util.Errf(util.ErrAuth, "credential presentation expired at %s", claims.ExpiresAt.Time)
	}

	return nil
}

var ErrEmptyPresentation = errors.New("relay returned an empty presentation")
