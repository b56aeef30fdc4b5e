package turn

import (
	"context"
	"net"

	"golang.org/x/time/rate"
)

// maintenanceRate bounds how often MaintainPermission/MaintainChannel will
// actually issue a CreatePermission or ChannelBind request for a given
// allocation: without pacing, a burst of SendData calls to the same unbound
// peer would fire one such request per packet instead of once.
const maintenanceRate = 2 // requests per second, per allocation

func newMaintenanceLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(maintenanceRate), 1)
}

// MaintainPermission installs peerIP's permission if none is active, or
// refreshes it once PermissionDue reports it is about to lapse. Call sites
// that send through this allocation call it unconditionally before every
// transmission; the rate limiter keeps repeated calls cheap once a
// permission is already fresh.
func (a *Allocation) MaintainPermission(ctx context.Context, peerIP net.IP) error {
	if a.HasPermission(peerIP) && !a.PermissionDue(peerIP) {
		return nil
	}
	if !a.permLimiter.Allow() {
		return nil
	}
	return a.CreatePermission(ctx, peerIP)
}

// MaintainChannel binds peer to a channel once ShouldBind says it has
// earned one, or rebinds it once ChannelRefreshDue fires, pacing attempts
// with the same limiter strategy as MaintainPermission.
func (a *Allocation) MaintainChannel(ctx context.Context, peer net.UDPAddr) error {
	_, bound := a.ChannelOf(peer)
	switch {
	case bound && !a.ChannelRefreshDue(peer):
		return nil
	case !bound && !a.ShouldBind(peer):
		return nil
	}
	if !a.chanLimiter.Allow() {
		return nil
	}
	_, err := a.ChannelBind(ctx, peer)
	return err
}
