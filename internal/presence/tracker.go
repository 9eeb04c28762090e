package presence

import "time"

const (
	// ClaimTTL is how long a save claim stays usable for attribution.
	ClaimTTL = 30 * time.Second

	// ClaimDebounce is the window within which an existing claim is not
	// overwritten by an older one.
	ClaimDebounce = 5 * time.Second
)

// claim records which connection most recently reported triggering a save of
// a workflow. It is the hint the change detector uses to skip notifying the
// author of their own save.
type claim struct {
	ConnectionID string
	Username     string
	DisplayName  string
	ClaimedAt    time.Time
}

// RecordClaim notes that a connection reports having just saved workflowID.
// Claims from connections not currently viewing that workflow are dropped.
//
// Overwrite policy, last-write-wins within a short debounce: write when no
// claim exists, when the existing claim is older than ClaimDebounce, or when
// the new claim's timestamp is not before the existing one. Claim timestamps
// are always "now" today, which collapses the last arm into the first two,
// but the rule is kept whole in case a client ever supplies its own
// timestamp.
func (s *Service) RecordClaim(connectionID, workflowID string) {
	if workflowID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections.Get(connectionID)
	if !ok || conn.WorkflowID != workflowID {
		return
	}

	now := s.now()
	existing, ok := s.claims[workflowID]
	if !ok || now.Sub(existing.ClaimedAt) > ClaimDebounce || !now.Before(existing.ClaimedAt) {
		s.claims[workflowID] = claim{
			ConnectionID: connectionID,
			Username:     conn.Username,
			DisplayName:  conn.DisplayName,
			ClaimedAt:    now,
		}
	}
}

// CleanupClaims deletes claims older than ClaimTTL. Runs on a fixed interval;
// expired claims are already ignored for attribution, this just bounds the
// map.
func (s *Service) CleanupClaims() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for workflowID, c := range s.claims {
		if now.Sub(c.ClaimedAt) > ClaimTTL {
			delete(s.claims, workflowID)
		}
	}
}

// attributedConnectionLocked returns the connection to exclude from a
// workflow_saved broadcast, or "" when no usable claim exists. A claim is
// usable only while younger than ClaimTTL; it is not consumed, later
// detections within the window reuse it.
func (s *Service) attributedConnectionLocked(workflowID string) string {
	c, ok := s.claims[workflowID]
	if !ok || s.now().Sub(c.ClaimedAt) >= ClaimTTL {
		return ""
	}
	return c.ConnectionID
}
