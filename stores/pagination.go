package stores

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"

	"satslink/linkclient"
	"satslink/util"
)

type pageFetcher func(ctx context.Context, start *util.Principal) ([]linkclient.PoolMember, error)

// collectPoolMembers walks get_satslinkers pages. The next start key is the
// last principal of the previous page. It stops at the first empty page, or
// quietly when the backend hands back a start key that was already used.
// Each principal is listed once, at its first position.
func collectPoolMembers(ctx context.Context, fetch pageFetcher) ([]linkclient.PoolMember, error) {

	var members []linkclient.PoolMember
	var start *util.Principal

	seen := make(map[util.Principal]bool)
	collected := make(map[util.Principal]bool)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := fetch(ctx, start)
		if err != nil {
			return nil, err
		}

		if len(page) == 0 {
			break
		}

		for _, m := range page {
			if collected[m.ID] {
				continue
			}
			collected[m.ID] = true
			members = append(members, m)
		}

		next := page[len(page)-1].ID
		if seen[next] {
			log.WithField("Start", next.String()).Warn("Pool pagination repeated a start key; stopping")
			break
		}
		seen[next] = true
		start = &next
	}

	sortPoolMembers(members)

	return members, nil
}

// sortPoolMembers orders by descending share. Equal shares keep backend order.
func sortPoolMembers(members []linkclient.PoolMember) {
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Share.Gt(members[j].Share)
	})
}
