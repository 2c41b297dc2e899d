// Package identity maps transient connections onto stable visitor identities.
//
// A visitor id is whatever the browser's identity provider hands out. It is a
// dedup key for reloads and extra tabs, not proof of who is on the other end:
// any client can claim any visitor id.
package identity

import (
	"errors"
	"time"

	"github.com/MayoPickle/tofu-chillsync/internal/domain"
)

var ErrUnknownConnection = errors.New("connection not bound")

// JoinResult describes what Join did to the roster.
type JoinResult struct {
	Viewer  domain.Viewer
	Rebound bool   // visitor already had a viewer; no new roster entry
	OldName string // set when a rebind also changed the display name
}

// Renamed reports whether a rebind changed the display name. A viewer with an
// empty name never counts; callers sanitize names to a non-empty default first.
func (r JoinResult) Renamed() bool {
	return r.Rebound && r.OldName != "" && r.OldName != r.Viewer.Name
}

// LeaveResult describes what Leave did to the roster.
type LeaveResult struct {
	Viewer   domain.Viewer
	Removed  bool // false while another connection still holds the visitor
	Survivor string
}

type entry struct {
	viewer domain.Viewer
	conns  map[string]struct{}
}

// Reconciler holds one room's roster. It is not safe for concurrent use; the
// owning room session serializes all calls.
type Reconciler struct {
	byVisitor map[string]*entry
	byConn    map[string]string
	order     []string
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		byVisitor: make(map[string]*entry),
		byConn:    make(map[string]string),
	}
}

// Join binds connectionID to visitorID. An empty visitorID falls back to the
// connection id, which makes the connection its own identity.
func (r *Reconciler) Join(connectionID, visitorID, name string, now time.Time) JoinResult {
	if visitorID == "" {
		visitorID = connectionID
	}
	r.byConn[connectionID] = visitorID

	if e, ok := r.byVisitor[visitorID]; ok {
		e.conns[connectionID] = struct{}{}
		old := e.viewer.Name
		e.viewer.ConnectionID = connectionID
		res := JoinResult{Rebound: true}
		if name != "" && name != old {
			e.viewer.Name = name
			res.OldName = old
		}
		res.Viewer = e.viewer
		return res
	}

	e := &entry{
		viewer: domain.Viewer{
			ConnectionID: connectionID,
			VisitorID:    visitorID,
			Name:         name,
			JoinedAt:     now,
		},
		conns: map[string]struct{}{connectionID: {}},
	}
	r.byVisitor[visitorID] = e
	r.order = append(r.order, visitorID)
	return JoinResult{Viewer: e.viewer}
}

// Leave unbinds connectionID. The viewer is removed only when no other live
// connection shares its visitor id; otherwise it is re-pointed at a survivor.
func (r *Reconciler) Leave(connectionID string) (LeaveResult, error) {
	visitorID, ok := r.byConn[connectionID]
	if !ok {
		return LeaveResult{}, ErrUnknownConnection
	}
	delete(r.byConn, connectionID)

	e := r.byVisitor[visitorID]
	delete(e.conns, connectionID)

	if len(e.conns) > 0 {
		if e.viewer.ConnectionID == connectionID {
			e.viewer.ConnectionID = r.anyConn(e)
		}
		return LeaveResult{Viewer: e.viewer, Survivor: e.viewer.ConnectionID}, nil
	}

	delete(r.byVisitor, visitorID)
	for i, v := range r.order {
		if v == visitorID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return LeaveResult{Viewer: e.viewer, Removed: true}, nil
}

// anyConn picks the lexically smallest surviving connection so the choice
// does not depend on map iteration order.
func (r *Reconciler) anyConn(e *entry) string {
	var pick string
	for c := range e.conns {
		if pick == "" || c < pick {
			pick = c
		}
	}
	return pick
}

// Rename changes the display name of the viewer bound to connectionID and
// returns the previous name.
func (r *Reconciler) Rename(connectionID, name string) (domain.Viewer, string, error) {
	visitorID, ok := r.byConn[connectionID]
	if !ok {
		return domain.Viewer{}, "", ErrUnknownConnection
	}
	e := r.byVisitor[visitorID]
	old := e.viewer.Name
	e.viewer.Name = name
	return e.viewer, old, nil
}

// Lookup returns the viewer bound to connectionID.
func (r *Reconciler) Lookup(connectionID string) (domain.Viewer, bool) {
	visitorID, ok := r.byConn[connectionID]
	if !ok {
		return domain.Viewer{}, false
	}
	return r.byVisitor[visitorID].viewer, true
}

// Visitor returns the viewer for visitorID.
func (r *Reconciler) Visitor(visitorID string) (domain.Viewer, bool) {
	e, ok := r.byVisitor[visitorID]
	if !ok {
		return domain.Viewer{}, false
	}
	return e.viewer, true
}

// Connections returns the number of live connections held by visitorID.
func (r *Reconciler) Connections(visitorID string) int {
	if e, ok := r.byVisitor[visitorID]; ok {
		return len(e.conns)
	}
	return 0
}

// Viewers returns the roster in join order.
func (r *Reconciler) Viewers() []domain.Viewer {
	out := make([]domain.Viewer, 0, len(r.order))
	for _, v := range r.order {
		out = append(out, r.byVisitor[v].viewer)
	}
	return out
}

// Len is the number of distinct viewers.
func (r *Reconciler) Len() int {
	return len(r.order)
}
