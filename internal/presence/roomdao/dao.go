// Package roomdao provides the in-memory table of workflow rooms: one room
// per workflow that at least one connection is currently viewing.
package roomdao

// Room groups the connections viewing one workflow. Members preserves join
// order so membership snapshots stay stable between broadcasts.
type Room struct {
	WorkflowID string
	Name       string
	Members    []string
}

// HasMember reports whether the connection is already in the room.
func (r *Room) HasMember(connectionID string) bool {
	for _, id := range r.Members {
		if id == connectionID {
			return true
		}
	}
	return false
}

// AddMember appends the connection to the room unless already present.
func (r *Room) AddMember(connectionID string) {
	if !r.HasMember(connectionID) {
		r.Members = append(r.Members, connectionID)
	}
}

// RemoveMember drops the connection from the room and reports whether the
// room is now empty.
func (r *Room) RemoveMember(connectionID string) (empty bool) {
	members := r.Members[:0]
	for _, id := range r.Members {
		if id != connectionID {
			members = append(members, id)
		}
	}
	r.Members = members
	return len(r.Members) == 0
}

// DAO stores room records keyed by workflow ID. Like the connections DAO it
// carries no locking of its own; the presence service serializes access.
type DAO struct {
	rooms map[string]*Room
}

// New creates an empty rooms DAO.
func New() *DAO {
	return &DAO{rooms: make(map[string]*Room)}
}

// Get retrieves a room by workflow ID.
func (d *DAO) Get(workflowID string) (*Room, bool) {
	room, ok := d.rooms[workflowID]
	return room, ok
}

// Create stores a new empty room for the workflow.
func (d *DAO) Create(workflowID, name string) *Room {
	room := &Room{WorkflowID: workflowID, Name: name}
	d.rooms[workflowID] = room
	return room
}

// Delete removes a room by workflow ID.
func (d *DAO) Delete(workflowID string) {
	delete(d.rooms, workflowID)
}

// List returns all rooms in unspecified order.
func (d *DAO) List() []*Room {
	rooms := make([]*Room, 0, len(d.rooms))
	for _, room := range d.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}
