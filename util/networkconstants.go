package util

import (
	"fmt"
	"strings"
)

const (
	NETWORK_IC    = "ic"
	NETWORK_LOCAL = "local"
)

type NetworkConstants struct {
	GatewayEndpoints   []string // default gateway endpoints, primary first
	IdentityProvider   string   // identity-provider origin used for II logins and credential requests
	IcpLedgerID        string
	IcpSwapInfoID      string
	CredentialIssuer   string
	CredentialIssuerID string
	CredentialType     string
	PoolPageSize       uint32
}

// GetNetworkConstants returns the defaults for a mode. iiCanister is only used
// in local mode, where the identity provider is served by a local canister.
func GetNetworkConstants(network, iiCanister string) (*NetworkConstants, error) {

	switch network {
	case NETWORK_IC:
		return &NetworkConstants{
			GatewayEndpoints:   []string{"https://gw-eu.satslink.io", "https://gw-us.satslink.io"},
			IdentityProvider:   "https://identity.ic0.app/",
			IcpLedgerID:        "ryjl3-tyaaa-aaaaa-aaaba-cai",
			IcpSwapInfoID:      "ggzvv-5qaaa-aaaag-qck7a-cai",
			CredentialIssuer:   "https://id.decideai.xyz",
			CredentialIssuerID: "qgxyr-pyaaa-aaaah-qdcwq-cai",
			CredentialType:     "ProofOfUniqueness",
			PoolPageSize:       100,
		}, nil

	case NETWORK_LOCAL:
		host := "http://localhost:4943"
		return &NetworkConstants{
			GatewayEndpoints:   []string{host},
			IdentityProvider:   strings.Replace(host, "http://", fmt.Sprintf("http://%s.", iiCanister), 1),
			IcpLedgerID:        "ryjl3-tyaaa-aaaaa-aaaba-cai",
			IcpSwapInfoID:      "ggzvv-5qaaa-aaaag-qck7a-cai",
			CredentialIssuer:   "https://id.decideai.xyz",
			CredentialIssuerID: "qgxyr-pyaaa-aaaah-qdcwq-cai",
			CredentialType:     "ProofOfUniqueness",
			PoolPageSize:       100,
		}, nil
	}

	// Unknown network
	return nil, fmt.Errorf("No such network '%s' exists", network)
}

func IsValidNetwork(maybeNetwork string) bool {
	return maybeNetwork == NETWORK_IC || maybeNetwork == NETWORK_LOCAL
}

func AvailableNetworks() string {
	return strings.Join([]string{NETWORK_IC, NETWORK_LOCAL}, ",")
}
