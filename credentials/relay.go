package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"satslink/util"
)

const RELAY_TIMEOUT = 2 * time.Minute

// RelayPresenter posts requests to a relay that drives the identity
// provider on the user's behalf.
type RelayPresenter struct {
	url        string
	httpClient *http.Client
}

func NewRelayPresenter(url string) (*RelayPresenter, error) {

	url = util.NormalizeEndpoint(url)
	if url == "" {
		return nil, errors.New("no credential relay URL")
	}

	return &RelayPresenter{
		url:        url,
		httpClient: &http.Client{Timeout: RELAY_TIMEOUT},
	}, nil
}

type relayReply struct {
	Ok  *string `json:"Ok"`
	Err *string `json:"Err"`
}

func (r *RelayPresenter) Present(ctx context.Context, req Request) (string, error) {

	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "Unable to marshal credential request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "Unable to create relay request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", util.WrapErr(util.ErrNetwork, err, "Unable to reach credential relay")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", util.WrapErr(util.ErrNetwork, err, "Unable to read relay reply")
	}

	if resp.StatusCode != http.StatusOK {
		return "", util.Errf(util.ErrNetwork, "credential relay returned %d: %s", resp.StatusCode, util.StripQuote(string(raw)))
	}

	var reply relayReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", util.WrapErr(util.ErrNetwork, err, "Unable to decode relay reply")
	}

	switch {
	case reply.Err != nil:
		log.WithField("Error", *reply.Err).Warn("Credential request refused")
		return "", util.Errf(util.ErrAuth, "credential request refused: %s", *reply.Err)
	case reply.Ok == nil || *reply.Ok == "":
		return "", util.WrapErr(util.ErrNetwork, ErrEmptyPresentation, "Credential relay")
	}

	return *reply.Ok, nil
}
