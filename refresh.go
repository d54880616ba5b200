package main

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"satslink/linkclient"
	"satslink/metrics"
	"satslink/session"
	"satslink/stores"
	"satslink/util"
)

const DEFAULT_REFRESH = 2 * time.Minute

// Refresher keeps the shared caches warm between user actions
type Refresher struct {
	stores     *stores.Stores
	auth       *session.Session
	linkClient *linkclient.LinkClient
	status     *linkclient.LinkStatus
	indicators *metrics.PromIndicators
	interval   time.Duration
}

func (r *Refresher) Run(ctx context.Context, shutdownChannel <-chan interface{}, wg *sync.WaitGroup) {

	defer wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.WithField("Interval", r.interval).Info("Refresh loop started")

	for {
		select {
		case <-ticker.C:
			_ = r.RefreshOnce(ctx)

		case <-shutdownChannel:
			log.Debug("Refresh loop stopped")
			return
		}
	}
}

// RefreshOnce fetches totals and payments concurrently. Each fetch runs to
// completion on its own; a failed one keeps only its previous cache. The
// first error is logged and reflected on the status.
func (r *Refresher) RefreshOnce(ctx context.Context) error {

	var g errgroup.Group

	g.Go(func() error { return r.stores.Satslinker.FetchTotals(ctx) })
	g.Go(func() error { return r.stores.Payments.FetchAllPayments(ctx) })
	g.Go(func() error { return r.stores.Payments.FetchPaymentUserCount(ctx) })

	if r.auth.IsAuthorized() {
		g.Go(func() error { return r.stores.Satslinker.FetchDepositBalance(ctx) })
	}

	err := g.Wait()

	r.status.SetEndpoint(r.linkClient.Current(), r.linkClient.IsPrimary)
	r.updateIndicators()

	if err != nil {
		log.WithError(err).Error("Refresh failed")
		r.status.SetError(err)

		if util.CodeOf(err) == util.ErrNetwork {
			r.status.SetState(linkclient.STATE_UNREACHABLE)
		}

		return err
	}

	r.status.ClearError()

	if r.auth.IsAuthorized() {
		r.status.SetState(linkclient.STATE_READY)
	} else {
		r.status.SetState(linkclient.STATE_NO_SESSION)
	}

	if r.indicators != nil {
		r.indicators.SetLastRefreshSuccess(time.Now().Unix())
	}

	return nil
}

func (r *Refresher) updateIndicators() {

	var round uint64

	if totals, ok := r.stores.Satslinker.Totals(); ok {
		round = uint64(totals.CurrentPosRound)

		if r.indicators != nil {
			r.indicators.SetTotalMinted(totals.TotalTokenMinted.Float64())
			r.indicators.SetCurrentRound(round)
		}
	}

	r.status.SetRefreshed(round)

	if r.indicators == nil {
		return
	}

	r.indicators.SetPoolMembers(len(r.stores.Satslinker.PoolMembers()))

	if count, ok := r.stores.Payments.UserCount(); ok {
		r.indicators.SetPaymentUsers(count)
	}
}
