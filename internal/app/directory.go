package app

import (
	"sort"
	"time"

	"interview-battle-service/internal/domain"
)

// Directory maps connections to participants within one session. It is not
// safe for concurrent use; the owning Session serializes access.
type Directory struct {
	byUser       map[string]*domain.Participant
	byConn       map[string]string // connectionID -> userID
	hostID       string
	hostExplicit bool
}

func NewDirectory() *Directory {
	return &Directory{
		byUser: make(map[string]*domain.Participant),
		byConn: make(map[string]string),
	}
}

// joinOutcome describes what a join did to the directory.
type joinOutcome struct {
	participant *domain.Participant
	// superseded is the previous live connection of the same user, if any.
	superseded string
	rejoined   bool
}

// Join registers or refreshes a participant. hostClaim is the externally
// supplied host flag; nil means the directory derives host status itself
// (first joiner of the session).
func (d *Directory) Join(userID, displayName, connectionID string, hostClaim *bool, now time.Time) joinOutcome {
	out := joinOutcome{}

	p, ok := d.byUser[userID]
	if ok {
		out.rejoined = true
		if p.ConnectionID != connectionID {
			if p.Live {
				out.superseded = p.ConnectionID
			}
			delete(d.byConn, p.ConnectionID)
		}
		if displayName != "" {
			p.DisplayName = displayName
		}
	} else {
		p = &domain.Participant{
			UserID:      userID,
			DisplayName: displayName,
			JoinedAt:    now,
		}
		d.byUser[userID] = p
	}
	p.ConnectionID = connectionID
	p.Live = true
	p.LastSeen = now
	d.byConn[connectionID] = userID

	d.assignHost(userID, hostClaim)
	out.participant = p
	return out
}

func (d *Directory) assignHost(userID string, hostClaim *bool) {
	switch {
	case hostClaim != nil && *hostClaim:
		// An explicit claim replaces a derived host but never another explicit one.
		if d.hostID == "" || !d.hostExplicit {
			d.setHost(userID)
			d.hostExplicit = true
		}
	case hostClaim == nil && d.hostID == "":
		d.setHost(userID)
	}
}

func (d *Directory) setHost(userID string) {
	if prev, ok := d.byUser[d.hostID]; ok {
		prev.IsHost = false
	}
	d.hostID = userID
	d.byUser[userID].IsHost = true
}

// Leave marks the connection dead. It returns the participant only when the
// connection was the user's current one; superseded connections leave silently.
func (d *Directory) Leave(connectionID string, now time.Time) (*domain.Participant, bool) {
	userID, ok := d.byConn[connectionID]
	if !ok {
		return nil, false
	}
	delete(d.byConn, connectionID)

	p := d.byUser[userID]
	if p == nil || p.ConnectionID != connectionID || !p.Live {
		return nil, false
	}
	p.Live = false
	p.LastSeen = now
	return p, true
}

// ByConnection resolves the participant currently represented by a connection.
func (d *Directory) ByConnection(connectionID string) (*domain.Participant, bool) {
	userID, ok := d.byConn[connectionID]
	if !ok {
		return nil, false
	}
	p, ok := d.byUser[userID]
	if !ok || p.ConnectionID != connectionID {
		return nil, false
	}
	return p, true
}

// ByUser looks up a participant by identity.
func (d *Directory) ByUser(userID string) (*domain.Participant, bool) {
	p, ok := d.byUser[userID]
	return p, ok
}

// IsHostConnection reports whether the connection is the host's live connection.
func (d *Directory) IsHostConnection(connectionID string) bool {
	p, ok := d.ByConnection(connectionID)
	return ok && p.IsHost && p.Live
}

// ListLive returns the currently connected participants ordered by join time.
func (d *Directory) ListLive() []*domain.Participant {
	live := make([]*domain.Participant, 0, len(d.byUser))
	for _, p := range d.byUser {
		if p.Live {
			live = append(live, p)
		}
	}
	sortParticipants(live)
	return live
}

// HostID returns the current host, empty when none was assigned.
func (d *Directory) HostID() string {
	return d.hostID
}

// Views returns every known participant, live or not, for snapshots.
func (d *Directory) Views() []domain.ParticipantView {
	all := make([]*domain.Participant, 0, len(d.byUser))
	for _, p := range d.byUser {
		all = append(all, p)
	}
	sortParticipants(all)

	views := make([]domain.ParticipantView, 0, len(all))
	for _, p := range all {
		views = append(views, viewOf(p))
	}
	return views
}

// Connections returns the live connection ids.
func (d *Directory) Connections() []string {
	conns := make([]string, 0, len(d.byConn))
	for conn := range d.byConn {
		conns = append(conns, conn)
	}
	sort.Strings(conns)
	return conns
}

func viewOf(p *domain.Participant) domain.ParticipantView {
	return domain.ParticipantView{
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		ConnectionID: p.ConnectionID,
		IsHost:       p.IsHost,
		Live:         p.Live,
	}
}

func sortParticipants(ps []*domain.Participant) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].UserID < ps[j].UserID
	})
}
