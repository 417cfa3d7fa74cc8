package session

// room keeps its members in join order so activeUsers lists are stable for clients.
type room struct {
	order   []string
	members map[string]struct{}
}

func newRoom() *room { return &room{members: make(map[string]struct{})} }

func (r *room) add(connID string) {
	if _, ok := r.members[connID]; ok {
		return
	}
	r.members[connID] = struct{}{}
	r.order = append(r.order, connID)
}

func (r *room) remove(connID string) bool {
	if _, ok := r.members[connID]; !ok {
		return false
	}
	delete(r.members, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *room) snapshot() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Directory maps script ids to the connections editing them. It is the only place
// membership is mutated. It does no locking: callers serialize access (the
// coordinator event loop does).
type Directory struct {
	rooms       map[string]*room
	memberships map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		rooms:       make(map[string]*room),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to the room, creating it if needed, and returns the member set
// after the add. Joining twice is a no-op.
func (d *Directory) Join(scriptID, connID string) []string {
	r, ok := d.rooms[scriptID]
	if !ok {
		r = newRoom()
		d.rooms[scriptID] = r
	}
	r.add(connID)

	mine, ok := d.memberships[connID]
	if !ok {
		mine = make(map[string]struct{})
		d.memberships[connID] = mine
	}
	mine[scriptID] = struct{}{}

	return r.snapshot()
}

// Leave removes connID from the room. It returns nil when connID was not a member
// (nothing to broadcast) and an empty, non-nil slice when the room was emptied and
// deleted.
func (d *Directory) Leave(scriptID, connID string) []string {
	r, ok := d.rooms[scriptID]
	if !ok || !r.remove(connID) {
		return nil
	}
	if mine := d.memberships[connID]; mine != nil {
		delete(mine, scriptID)
		if len(mine) == 0 {
			delete(d.memberships, connID)
		}
	}
	if len(r.order) == 0 {
		delete(d.rooms, scriptID)
		return []string{}
	}
	return r.snapshot()
}

// LeaveAll removes connID from every room and returns the remaining members of each
// room that still exists. Rooms emptied by the removal are deleted and omitted.
func (d *Directory) LeaveAll(connID string) map[string][]string {
	mine := d.memberships[connID]
	delete(d.memberships, connID)

	out := make(map[string][]string, len(mine))
	for scriptID := range mine {
		r, ok := d.rooms[scriptID]
		if !ok {
			continue
		}
		r.remove(connID)
		if len(r.order) == 0 {
			delete(d.rooms, scriptID)
			continue
		}
		out[scriptID] = r.snapshot()
	}
	return out
}

// MembersOf returns a snapshot of the room; empty when the room does not exist.
func (d *Directory) MembersOf(scriptID string) []string {
	r, ok := d.rooms[scriptID]
	if !ok {
		return []string{}
	}
	return r.snapshot()
}

// RoomsOf returns the scripts connID currently belongs to.
func (d *Directory) RoomsOf(connID string) []string {
	out := make([]string, 0, len(d.memberships[connID]))
	for scriptID := range d.memberships[connID] {
		out = append(out, scriptID)
	}
	return out
}

func (d *Directory) RoomCount() int { return len(d.rooms) }
