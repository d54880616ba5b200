package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"satslink/util"
)

// Environment variables read at startup; a .env file fills in whatever the
// process environment does not set.
const (
	ENV_SATSLINKER_CANISTER_ID     = "SATSLINKER_CANISTER_ID"
	ENV_SATSLINK_TOKEN_CANISTER_ID = "SATSLINK_TOKEN_CANISTER_ID"
	ENV_ICP_TOKEN_CANISTER_ID      = "ICP_TOKEN_CANISTER_ID"
	ENV_ICPSWAP_INFO_CANISTER_ID   = "ICPSWAP_INFO_CANISTER_ID"
	ENV_GATEWAY_URL                = "GATEWAY_URL"
	ENV_CREDENTIAL_RELAY_URL       = "CREDENTIAL_RELAY_URL"
	ENV_II_ORIGIN                  = "II_ORIGIN"
	ENV_II_CANISTER_ID             = "II_CANISTER_ID"
)

var envKeys = []string{
	ENV_SATSLINKER_CANISTER_ID,
	ENV_SATSLINK_TOKEN_CANISTER_ID,
	ENV_ICP_TOKEN_CANISTER_ID,
	ENV_ICPSWAP_INFO_CANISTER_ID,
	ENV_GATEWAY_URL,
	ENV_CREDENTIAL_RELAY_URL,
	ENV_II_ORIGIN,
	ENV_II_CANISTER_ID,
}

type Env struct {
	SatslinkerCanister util.Principal
	SatslinkToken      util.Principal
	IcpToken           util.Principal
	IcpSwapInfo        util.Principal
	GatewayURL         string
	CredentialRelayURL string
}

// readEnv merges envFile (optional) under the process environment
func readEnv(envFile string) (map[string]string, error) {

	vals := make(map[string]string)

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			fileVals, err := godotenv.Read(envFile)
			if err != nil {
				return nil, errors.Wrapf(err, "Unable to read %s", envFile)
			}
			vals = fileVals
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "Unable to stat %s", envFile)
		}
	}

	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			vals[k] = v
		}
	}

	return vals, nil
}

// parseEnv validates the canister ids and applies the network defaults.
// II_ORIGIN overrides the identity provider in nc.
func parseEnv(vals map[string]string, nc *util.NetworkConstants) (*Env, error) {

	principal := func(key, fallback string) (util.Principal, error) {
		text := vals[key]
		if text == "" {
			text = fallback
		}

		if text == "" {
			return util.Principal{}, errors.Errorf("%s is not set", key)
		}

		p, err := util.ParsePrincipal(text)
		if err != nil {
			return util.Principal{}, errors.Wrapf(err, "Invalid %s", key)
		}

		return p, nil
	}

	var err error
	env := &Env{
		GatewayURL:         util.NormalizeEndpoint(vals[ENV_GATEWAY_URL]),
		CredentialRelayURL: util.NormalizeEndpoint(vals[ENV_CREDENTIAL_RELAY_URL]),
	}

	if env.SatslinkerCanister, err = principal(ENV_SATSLINKER_CANISTER_ID, ""); err != nil {
		return nil, err
	}

	if env.SatslinkToken, err = principal(ENV_SATSLINK_TOKEN_CANISTER_ID, ""); err != nil {
		return nil, err
	}

	if env.IcpToken, err = principal(ENV_ICP_TOKEN_CANISTER_ID, nc.IcpLedgerID); err != nil {
		return nil, err
	}

	if env.IcpSwapInfo, err = principal(ENV_ICPSWAP_INFO_CANISTER_ID, nc.IcpSwapInfoID); err != nil {
		return nil, err
	}

	if origin := vals[ENV_II_ORIGIN]; origin != "" {
		nc.IdentityProvider = origin
	}

	return env, nil
}
