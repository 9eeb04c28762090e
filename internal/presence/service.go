// Package presence tracks which users are viewing which n8n workflow, detects
// external saves by polling the n8n API, and broadcasts membership and
// save notifications to the connections viewing the same workflow.
//
// All state is in-memory and owned by a single Service instance; a process
// restart drops everything and clients rebuild it by re-announcing themselves
// over the WebSocket channel.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zoniahub/portal/internal/n8n"
	"github.com/zoniahub/portal/internal/presence/connectiondao"
	"github.com/zoniahub/portal/internal/presence/roomdao"
)

// Server-to-client event names.
const (
	EventUsersUpdate = "workflow_users_update"
	EventNameUpdated = "workflow_name_updated"
	EventSaved       = "workflow_saved"
)

const (
	// HeartbeatTimeout is how long a connection may go without a
	// heartbeat before the watchdog treats it as disconnected.
	HeartbeatTimeout = 60 * time.Second

	// DetectInterval is how often the change detector polls n8n for
	// workflows under concurrent viewing.
	DetectInterval = 5 * time.Second

	// WatchdogInterval is how often stale connections are evicted.
	WatchdogInterval = 10 * time.Second

	// ClaimSweepInterval is how often expired save claims are purged.
	ClaimSweepInterval = 10 * time.Second

	// NameRefreshInterval is how often room display names are re-resolved.
	NameRefreshInterval = 30 * time.Second
)

var (
	ErrWorkflowRequired  = errors.New("workflow id is required")
	ErrUnknownConnection = errors.New("unknown connection")
)

// Resolver resolves workflow metadata from n8n. Both lookups fail soft: the
// bool is false when n8n is unreachable or the workflow is unknown.
type Resolver interface {
	ResolveName(ctx context.Context, workflowID string) (string, bool)
	ResolveWorkflow(ctx context.Context, workflowID string) (n8n.Workflow, bool)
}

// Gateway delivers an event to a set of connections. Delivery is best-effort
// and at-most-once; implementations must not block.
type Gateway interface {
	Send(connectionIDs []string, event string, payload interface{})
}

// Member is one entry of a room membership snapshot.
type Member struct {
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
	WorkflowID   string `json:"workflowId"`
	WorkflowName string `json:"workflowName"`
}

// WorkflowUser is the reduced member shape used in all-workflow listings.
type WorkflowUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// RoomSnapshot describes one active workflow room.
type RoomSnapshot struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Users []WorkflowUser `json:"users"`
}

// NameUpdate is the payload of a workflow_name_updated event.
type NameUpdate struct {
	WorkflowID   string `json:"workflowId"`
	WorkflowName string `json:"workflowName"`
}

// SavedNotification is the payload of a workflow_saved event.
type SavedNotification struct {
	WorkflowID   string    `json:"workflowId"`
	WorkflowName string    `json:"workflowName"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Message      string    `json:"message"`
}

// PlaceholderName is the synthesized display name used until a real one has
// been resolved from n8n. Clients match this string, so it is load-bearing.
func PlaceholderName(workflowID string) string {
	return "Workflow " + workflowID
}

// Service is the presence coordinator. One instance is created per process
// and injected into the WebSocket and REST handlers; a single mutex guards
// all registries, and it is never held across an n8n call.
type Service struct {
	logger   zerolog.Logger
	resolver Resolver
	gateway  Gateway

	mu          sync.Mutex
	connections *connectiondao.DAO
	rooms       *roomdao.DAO
	lastUpdated map[string]time.Time
	claims      map[string]claim

	now func() time.Time
}

// New creates the presence coordinator.
func New(resolver Resolver, gateway Gateway, logger zerolog.Logger) *Service {
	return &Service{
		logger:      logger,
		resolver:    resolver,
		gateway:     gateway,
		connections: connectiondao.New(),
		rooms:       roomdao.New(),
		lastUpdated: make(map[string]time.Time),
		claims:      make(map[string]claim),
		now:         time.Now,
	}
}

// Register records a newly opened connection with an anonymous identity and
// no joined workflow.
func (s *Service) Register(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections.Put(connectiondao.Connection{
		ConnectionID:  connectionID,
		Username:      "anonymous",
		DisplayName:   "Anonymous",
		LastHeartbeat: s.now(),
	})
}

// Authenticate sets the user identity on a connection. An empty display name
// falls back to the username.
func (s *Service) Authenticate(connectionID, username, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections.Get(connectionID)
	if !ok {
		return
	}
	if username != "" {
		conn.Username = username
	}
	if displayName != "" {
		conn.DisplayName = displayName
	} else if username != "" {
		conn.DisplayName = username
	}
}

// RecordHeartbeat refreshes a connection's heartbeat, but only when the
// heartbeat names the workflow the connection is actually joined to; stale
// heartbeats for an abandoned workflow are ignored.
func (s *Service) RecordHeartbeat(connectionID, workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections.Get(connectionID)
	if !ok || conn.WorkflowID != workflowID {
		return
	}
	conn.LastHeartbeat = s.now()
}

// Join moves a connection into the room for workflowID, leaving any previous
// room first. candidateName is the client's idea of the display name and is
// used only when it is a real name (non-empty, not the placeholder).
func (s *Service) Join(ctx context.Context, connectionID, workflowID, candidateName string) error {
	if workflowID == "" {
		return ErrWorkflowRequired
	}

	s.mu.Lock()
	conn, ok := s.connections.Get(connectionID)
	if !ok {
		s.mu.Unlock()
		return ErrUnknownConnection
	}
	if conn.WorkflowID != "" && conn.WorkflowID != workflowID {
		s.leaveLocked(connectionID, conn.WorkflowID)
	}
	s.mu.Unlock()

	// Resolve the display name outside the lock; the lock is never held
	// across an n8n call.
	name := candidateName
	if name == "" || name == PlaceholderName(workflowID) {
		if resolved, ok := s.resolver.ResolveName(ctx, workflowID); ok {
			name = resolved
		} else {
			name = ""
		}
	}

	s.mu.Lock()
	conn, ok = s.connections.Get(connectionID)
	if !ok {
		// Disconnected while the name was resolving.
		s.mu.Unlock()
		return nil
	}

	room, exists := s.rooms.Get(workflowID)
	if name == "" {
		if exists {
			name = room.Name
		} else {
			name = PlaceholderName(workflowID)
		}
	}
	if !exists {
		room = s.rooms.Create(workflowID, name)
	}
	room.AddMember(connectionID)

	conn.WorkflowID = workflowID
	conn.WorkflowName = name
	conn.LastHeartbeat = s.now()

	// A freshly resolved real name supersedes whatever the room held, and
	// every member's cached view of the name is kept consistent.
	if name != PlaceholderName(workflowID) && room.Name != name {
		s.applyNameLocked(room, name)
	}

	placeholder := room.Name == PlaceholderName(workflowID)
	s.broadcastUsersLocked(workflowID)
	s.mu.Unlock()

	if placeholder {
		go s.resolveNameLater(workflowID)
	}
	return nil
}

// Leave removes the connection from the workflow's room, deleting the room
// when it empties and notifying the remaining members otherwise.
func (s *Service) Leave(connectionID, workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(connectionID, workflowID)
}

// Disconnect handles an explicit close or a watchdog eviction: the room is
// left first so remaining members get an accurate snapshot, then the
// connection record is removed. This order is mandatory.
func (s *Service) Disconnect(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections.Get(connectionID)
	if !ok {
		return
	}
	if conn.WorkflowID != "" {
		s.leaveLocked(connectionID, conn.WorkflowID)
	}
	s.connections.Delete(connectionID)
}

// Snapshot returns the membership of one workflow room. Members whose
// connection record no longer exists are dropped.
func (s *Service) Snapshot(workflowID string) []Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(workflowID)
}

// AllSnapshots returns every active room with its reduced member list.
func (s *Service) AllSnapshots() []RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := s.rooms.List()
	snapshots := make([]RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		snapshot := RoomSnapshot{
			ID:    room.WorkflowID,
			Name:  room.Name,
			Users: make([]WorkflowUser, 0, len(room.Members)),
		}
		for _, id := range room.Members {
			if conn, ok := s.connections.Get(id); ok {
				snapshot.Users = append(snapshot.Users, WorkflowUser{
					Username:    conn.Username,
					DisplayName: conn.DisplayName,
				})
			}
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}

// RefreshName forces a (cache-first) name resolution for the workflow and, on
// success, renames the room and notifies its members. Used by the REST
// refresh endpoint.
func (s *Service) RefreshName(ctx context.Context, workflowID string) (string, bool) {
	name, ok := s.resolver.ResolveName(ctx, workflowID)
	if !ok || name == "" {
		return "", false
	}

	s.mu.Lock()
	if room, exists := s.rooms.Get(workflowID); exists && room.Name != name {
		s.applyNameLocked(room, name)
	}
	s.broadcastRoomLocked(workflowID, EventNameUpdated, NameUpdate{WorkflowID: workflowID, WorkflowName: name})
	s.mu.Unlock()
	return name, true
}

// resolveNameLater is the continuation scheduled when a room is created with
// a placeholder name. The room may have been deleted or renamed by the time
// the resolution lands; both are treated as silent no-ops.
func (s *Service) resolveNameLater(workflowID string) {
	name, ok := s.resolver.ResolveName(context.Background(), workflowID)
	if !ok || name == "" || name == PlaceholderName(workflowID) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms.Get(workflowID)
	if !exists || room.Name == name {
		return
	}
	s.applyNameLocked(room, name)
	s.broadcastRoomLocked(workflowID, EventNameUpdated, NameUpdate{WorkflowID: workflowID, WorkflowName: name})
	s.broadcastUsersLocked(workflowID)
}

func (s *Service) leaveLocked(connectionID, workflowID string) {
	room, ok := s.rooms.Get(workflowID)
	if !ok {
		return
	}
	if empty := room.RemoveMember(connectionID); empty {
		s.rooms.Delete(workflowID)
		return
	}
	s.broadcastUsersLocked(workflowID)
}

// applyNameLocked renames the room and every member connection's cached view
// of the name. It does not broadcast; callers decide whether to notify.
func (s *Service) applyNameLocked(room *roomdao.Room, name string) {
	room.Name = name
	for _, id := range room.Members {
		if conn, ok := s.connections.Get(id); ok {
			conn.WorkflowName = name
		}
	}
}

func (s *Service) snapshotLocked(workflowID string) []Member {
	room, ok := s.rooms.Get(workflowID)
	if !ok {
		return []Member{}
	}
	members := make([]Member, 0, len(room.Members))
	for _, id := range room.Members {
		conn, ok := s.connections.Get(id)
		if !ok {
			continue
		}
		members = append(members, Member{
			ConnectionID: conn.ConnectionID,
			Username:     conn.Username,
			DisplayName:  conn.DisplayName,
			WorkflowID:   conn.WorkflowID,
			WorkflowName: conn.WorkflowName,
		})
	}
	return members
}

func (s *Service) broadcastUsersLocked(workflowID string) {
	s.broadcastRoomLocked(workflowID, EventUsersUpdate, s.snapshotLocked(workflowID))
}

func (s *Service) broadcastRoomLocked(workflowID, event string, payload interface{}) {
	s.broadcastRoomExceptLocked(workflowID, event, payload, "")
}

func (s *Service) broadcastRoomExceptLocked(workflowID, event string, payload interface{}, except string) {
	room, ok := s.rooms.Get(workflowID)
	if !ok {
		return
	}
	ids := make([]string, 0, len(room.Members))
	for _, id := range room.Members {
		if id != except {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		s.gateway.Send(ids, event, payload)
	}
}
