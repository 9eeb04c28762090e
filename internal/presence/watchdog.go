package presence

import (
	"context"
	"time"
)

// EvictStale is one tick of the heartbeat watchdog: any connection silent for
// longer than HeartbeatTimeout is treated as disconnected and removed through
// the same leave-then-delete sequence as an explicit close. This catches
// transport-level drops that never fire a clean close.
func (s *Service) EvictStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, conn := range s.connections.List() {
		if now.Sub(conn.LastHeartbeat) <= HeartbeatTimeout {
			continue
		}
		s.logger.Info().
			Str("connection_id", conn.ConnectionID).
			Str("username", conn.Username).
			Msg("heartbeat timeout, evicting connection")
		if conn.WorkflowID != "" {
			s.leaveLocked(conn.ConnectionID, conn.WorkflowID)
		}
		s.connections.Delete(conn.ConnectionID)
	}
}

// RefreshNames is one tick of the name-refresh sweep: every active room gets
// a cache-first re-resolution, so placeholder or drifted names heal without a
// join. Fresh cache entries make this a no-op with no network traffic.
func (s *Service) RefreshNames(ctx context.Context) {
	s.mu.Lock()
	var workflowIDs []string
	for _, room := range s.rooms.List() {
		workflowIDs = append(workflowIDs, room.WorkflowID)
	}
	s.mu.Unlock()

	for _, workflowID := range workflowIDs {
		name, ok := s.resolver.ResolveName(ctx, workflowID)
		if !ok || name == "" || name == PlaceholderName(workflowID) {
			continue
		}

		s.mu.Lock()
		room, exists := s.rooms.Get(workflowID)
		if !exists || room.Name == name {
			s.mu.Unlock()
			continue
		}
		s.applyNameLocked(room, name)
		s.broadcastRoomLocked(workflowID, EventNameUpdated, NameUpdate{
			WorkflowID:   workflowID,
			WorkflowName: name,
		})
		s.broadcastUsersLocked(workflowID)
		s.mu.Unlock()
	}
}

// Run drives the periodic sweeps until the context is cancelled. All sweeps
// share this single goroutine, so no two of them ever overlap.
func (s *Service) Run(ctx context.Context) error {
	detect := time.NewTicker(DetectInterval)
	defer detect.Stop()
	watchdog := time.NewTicker(WatchdogInterval)
	defer watchdog.Stop()
	claims := time.NewTicker(ClaimSweepInterval)
	defer claims.Stop()
	names := time.NewTicker(NameRefreshInterval)
	defer names.Stop()

	s.logger.Info().Msg("presence sweeps started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-detect.C:
			s.DetectChanges(ctx)
		case <-watchdog.C:
			s.EvictStale()
		case <-claims.C:
			s.CleanupClaims()
		case <-names.C:
			s.RefreshNames(ctx)
		}
	}
}
