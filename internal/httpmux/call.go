package httpmux

import "context"

// Call is a submitted request whose reply arrives on a channel owned by the
// caller. Cancelling the call detaches it: a late reply is dropped instead of
// delivered.
type Call struct {
	m     *Manager
	owner OwnerID
	ch    chan Reply
}

// Call submits req under a fresh owner and returns the pending call.
func (m *Manager) Call(req Request) *Call {
	c := &Call{
		m:     m,
		owner: NewOwnerID(),
		ch:    make(chan Reply, 1),
	}
	m.RegisterOwner(c.owner)

	req.Owner = c.owner
	m.Submit(req, func(r Reply) {
		select {
		case c.ch <- r:
		default:
		}
	})
	return c
}

// Owner returns the token the call was submitted under.
func (c *Call) Owner() OwnerID { return c.owner }

// Done yields the reply once.
func (c *Call) Done() <-chan Reply { return c.ch }

// Cancel unregisters the call's owner.
func (c *Call) Cancel() {
	c.m.UnregisterOwner(c.owner)
}

// Wait blocks for the reply or until ctx is done. The call is detached
// either way.
func (c *Call) Wait(ctx context.Context) (Reply, error) {
	defer c.Cancel()

	select {
	case r := <-c.ch:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
