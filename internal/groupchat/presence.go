package groupchat

import "sync"

// OnlinePeer is one entry in a group's in-memory online roster.
type OnlinePeer struct {
	MID       GroupID
	MAddr     PeerAddr
	IsManager bool
}

// groupState is the transient per-group state: the online roster, the
// current consensus height, and the durable GroupChat row id. Never
// persisted.
type groupState struct {
	online []OnlinePeer
	height int64
	fid    int64
}

// PresenceMap is the in-memory per-group member roster. It is mutated only
// by the Coordinator, which holds its own write lock for the duration of
// each Handle call; concurrent reads may hold the read side.
type PresenceMap struct {
	mu     sync.RWMutex
	groups map[GroupID]*groupState
}

// NewPresenceMap returns an empty presence map.
func NewPresenceMap() *PresenceMap {
	return &PresenceMap{groups: make(map[GroupID]*groupState)}
}

// Load installs one empty online roster per group, seeded with height and
// fid from the durable GroupChat row.
func (p *PresenceMap) Load(groups []GroupChat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range groups {
		p.groups[g.GID] = &groupState{height: g.Height, fid: g.ID}
	}
}

// Install registers a single freshly-created group (used by the Create
// policy instead of a full Load).
func (p *PresenceMap) Install(gid GroupID, fid, height int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups[gid] = &groupState{height: height, fid: fid}
}

// Known reports whether gid is installed in the presence map.
func (p *PresenceMap) Known(gid GroupID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.groups[gid]
	return ok
}

// AddMember adds or updates sender's address in gid's online roster.
// Never adds a manager flag here; managers are marked only at Create.
func (p *PresenceMap) AddMember(gid GroupID, mid GroupID, addr PeerAddr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	gs, ok := p.groups[gid]
	if !ok {
		return ErrNotFound
	}
	for i, op := range gs.online {
		if op.MID == mid {
			gs.online[i].MAddr = addr
			return nil
		}
	}
	gs.online = append(gs.online, OnlinePeer{MID: mid, MAddr: addr, IsManager: false})
	return nil
}

// AddMemberAs adds sender to the roster with an explicit manager flag; used
// by the Create policy to mark the owner as both online and manager.
func (p *PresenceMap) AddMemberAs(gid GroupID, mid GroupID, addr PeerAddr, isManager bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	gs, ok := p.groups[gid]
	if !ok {
		return ErrNotFound
	}
	for i, op := range gs.online {
		if op.MID == mid {
			gs.online[i].MAddr = addr
			gs.online[i].IsManager = isManager
			return nil
		}
	}
	gs.online = append(gs.online, OnlinePeer{MID: mid, MAddr: addr, IsManager: isManager})
	return nil
}

// DelMember removes mid from gid's roster. Returns false if gid is unknown
// or mid was not present.
func (p *PresenceMap) DelMember(gid GroupID, mid GroupID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	gs, ok := p.groups[gid]
	if !ok {
		return false
	}
	for i, op := range gs.online {
		if op.MID == mid {
			gs.online = append(gs.online[:i], gs.online[i+1:]...)
			return true
		}
	}
	return false
}

// DelByAddr removes the roster entry whose address equals addr, in every
// group. Only the currently-recorded address counts: a member who already
// reconnected from a new address survives a disconnect of the old one.
// Returns the set of (gid, mid) pairs actually removed.
func (p *PresenceMap) DelByAddr(addr PeerAddr) []struct {
	GID GroupID
	MID GroupID
} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var removed []struct {
		GID GroupID
		MID GroupID
	}
	for gid, gs := range p.groups {
		for i := 0; i < len(gs.online); i++ {
			if gs.online[i].MAddr == addr {
				removed = append(removed, struct {
					GID GroupID
					MID GroupID
				}{GID: gid, MID: gs.online[i].MID})
				gs.online = append(gs.online[:i], gs.online[i+1:]...)
				i--
			}
		}
	}
	return removed
}

// IsOnlineMember reports whether mid is currently online in gid.
func (p *PresenceMap) IsOnlineMember(gid GroupID, mid GroupID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs, ok := p.groups[gid]
	if !ok {
		return false
	}
	for _, op := range gs.online {
		if op.MID == mid {
			return true
		}
	}
	return false
}

// IsOnlineAddr reports whether addr is currently listed in gid's roster.
func (p *PresenceMap) IsOnlineAddr(gid GroupID, addr PeerAddr) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs, ok := p.groups[gid]
	if !ok {
		return false
	}
	for _, op := range gs.online {
		if op.MAddr == addr {
			return true
		}
	}
	return false
}

// OnlinePeers returns a snapshot of gid's online roster.
func (p *PresenceMap) OnlinePeers(gid GroupID) []OnlinePeer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs, ok := p.groups[gid]
	if !ok {
		return nil
	}
	out := make([]OnlinePeer, len(gs.online))
	copy(out, gs.online)
	return out
}

// Height returns gid's current height, or ErrNotFound.
func (p *PresenceMap) Height(gid GroupID) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs, ok := p.groups[gid]
	if !ok {
		return 0, ErrNotFound
	}
	return gs.height, nil
}

// FID returns gid's durable row id, or ErrNotFound.
func (p *PresenceMap) FID(gid GroupID) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gs, ok := p.groups[gid]
	if !ok {
		return 0, ErrNotFound
	}
	return gs.fid, nil
}

// BumpHeight atomically increments gid's height in memory. The caller is
// responsible for persisting the Consensus row and GroupChat.height to match
// right after this call returns; on restart Load resynchronises the counter
// from GroupChat.height regardless.
func (p *PresenceMap) BumpHeight(gid GroupID) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gs, ok := p.groups[gid]
	if !ok {
		return 0, ErrNotFound
	}
	gs.height++
	return gs.height, nil
}
