package linkclient

import (
	"context"

	"github.com/pkg/errors"

	"satslink/util"
)

// PriceClient reads USD quotes from the ICPSwap info canister
type PriceClient struct {
	lc         *LinkClient
	CanisterID util.Principal
}

func (lc *LinkClient) Price(canisterID util.Principal) *PriceClient {
	return &PriceClient{lc: lc, CanisterID: canisterID}
}

func (p *PriceClient) GetAllTokens(ctx context.Context, agent *Agent) ([]TokenPrice, error) {

	var prices []TokenPrice
	if err := p.lc.Query(ctx, agent, p.CanisterID.String(), "getAllTokens", struct{}{}, &prices); err != nil {
		return nil, errors.Wrap(err, "Unable to fetch USD exchange rates")
	}

	return prices, nil
}
