// Package connectiondao provides the in-memory table of live WebSocket
// connections.
package connectiondao

import "time"

// Connection represents one live WebSocket connection and the identity and
// workflow it currently announces. WorkflowID is empty until the first join.
type Connection struct {
	ConnectionID  string
	Username      string
	DisplayName   string
	WorkflowID    string
	WorkflowName  string
	LastHeartbeat time.Time
}

// DAO stores connection records. It is a plain table with no locking of its
// own: the presence service serializes all access behind a single mutex.
type DAO struct {
	conns map[string]*Connection
}

// New creates an empty connections DAO.
func New() *DAO {
	return &DAO{conns: make(map[string]*Connection)}
}

// Put stores a connection record, replacing any previous record with the
// same connection ID.
func (d *DAO) Put(conn Connection) *Connection {
	c := conn
	d.conns[conn.ConnectionID] = &c
	return &c
}

// Get retrieves a connection record by ID.
func (d *DAO) Get(connectionID string) (*Connection, bool) {
	conn, ok := d.conns[connectionID]
	return conn, ok
}

// Delete removes a connection record by ID.
func (d *DAO) Delete(connectionID string) {
	delete(d.conns, connectionID)
}

// List returns all connection records in unspecified order.
func (d *DAO) List() []*Connection {
	conns := make([]*Connection, 0, len(d.conns))
	for _, conn := range d.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of live connections.
func (d *DAO) Count() int {
	return len(d.conns)
}
