package presence

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// detectConcurrency bounds concurrent n8n polls within one detector tick.
const detectConcurrency = 8

// DetectChanges is one tick of the change detector: for every room with more
// than one viewer, poll n8n and broadcast workflow_saved when the reported
// modification time moved strictly forward. Rooms with a single viewer are
// skipped; a save notification is only useful when someone else is looking.
func (s *Service) DetectChanges(ctx context.Context) {
	s.mu.Lock()
	var workflowIDs []string
	for _, room := range s.rooms.List() {
		if len(room.Members) > 1 {
			workflowIDs = append(workflowIDs, room.WorkflowID)
		}
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(detectConcurrency)
	for _, workflowID := range workflowIDs {
		workflowID := workflowID
		g.Go(func() error {
			s.checkWorkflow(ctx, workflowID)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) checkWorkflow(ctx context.Context, workflowID string) {
	wf, ok := s.resolver.ResolveWorkflow(ctx, workflowID)
	if !ok || wf.UpdatedAt.IsZero() {
		// n8n unreachable or no timestamp; try again next tick.
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms.Get(workflowID)
	if !exists {
		// Everyone left while the poll was in flight.
		return
	}

	last, seen := s.lastUpdated[workflowID]
	if !seen {
		// First observation establishes the baseline, never a change.
		s.lastUpdated[workflowID] = wf.UpdatedAt
		return
	}
	if !wf.UpdatedAt.After(last) {
		return
	}
	s.lastUpdated[workflowID] = wf.UpdatedAt

	name := wf.Name
	if name == "" {
		name = room.Name
	}

	// When no usable claim exists everyone is notified, author included: a
	// spurious notification beats silently skipping the other viewers.
	except := s.attributedConnectionLocked(workflowID)
	s.broadcastRoomExceptLocked(workflowID, EventSaved, SavedNotification{
		WorkflowID:   workflowID,
		WorkflowName: name,
		UpdatedAt:    wf.UpdatedAt,
		Message:      "The workflow has been saved.",
	}, except)

	s.logger.Debug().
		Str("workflow_id", workflowID).
		Str("excluded_connection", except).
		Time("updated_at", wf.UpdatedAt).
		Msg("workflow change detected")

	if wf.Name != "" && wf.Name != room.Name {
		s.applyNameLocked(room, wf.Name)
		s.broadcastRoomLocked(workflowID, EventNameUpdated, NameUpdate{
			WorkflowID:   workflowID,
			WorkflowName: wf.Name,
		})
	}
}
