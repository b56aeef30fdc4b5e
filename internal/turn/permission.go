package turn

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/AltFreq07/libjuice/internal/stunmsg"
)

// permissionLifetime is fixed by RFC 5766 §8 at 5 minutes and is not
// negotiable.
const permissionLifetime = 5 * time.Minute

// permissionRefreshMargin is how long before expiry a permission is
// refreshed, matching the channel binding's 1-minute margin for the same
// reason: network jitter must never let a permission lapse while in use.
const permissionRefreshMargin = time.Minute

// CreatePermission installs or refreshes a permission for peerIP, scoped by
// IP address only (RFC 5766 §9.1: permissions do not carry a port). The
// caller is responsible for calling this again before the permission's
// 5-minute lifetime elapses.
func (a *Allocation) CreatePermission(ctx context.Context, peerIP net.IP) error {
	build := func(txID [stunmsg.TransactionIDSize]byte) []stunmsg.Attr {
		return []stunmsg.Attr{
			{Type: stunmsg.AttrXorPeerAddress, Value: stunmsg.EncodeXorAddress(peerIP, 0, txID)},
		}
	}
	_, err := a.client.doBuilt(ctx, stunmsg.MethodCreatePermission, build)
	if err != nil {
		return errors.Wrap(err, "turn: create permission")
	}
	a.permissions[peerIP.String()] = time.Now().Add(permissionLifetime)
	return nil
}

// HasPermission reports whether peerIP currently has an unexpired
// permission installed.
func (a *Allocation) HasPermission(peerIP net.IP) bool {
	exp, ok := a.permissions[peerIP.String()]
	return ok && time.Now().Before(exp)
}

// PermissionDue reports whether the permission for peerIP needs refreshing
// within permissionRefreshMargin.
func (a *Allocation) PermissionDue(peerIP net.IP) bool {
	exp, ok := a.permissions[peerIP.String()]
	if !ok {
		return true
	}
	return time.Now().Add(permissionRefreshMargin).After(exp)
}
