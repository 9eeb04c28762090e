package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"github.com/zoniahub/portal/internal/n8n"
)

type fakeResolver struct {
	mu        sync.Mutex
	names     map[string]string
	workflows map[string]n8n.Workflow
	nameCalls int
	fullCalls int

	// nameFn, when set, overrides the names map entirely.
	nameFn func(workflowID string) (string, bool)

	// blockFull, when set, gates ResolveWorkflow until the channel closes.
	blockFull chan struct{}
}

func (f *fakeResolver) ResolveName(ctx context.Context, workflowID string) (string, bool) {
	f.mu.Lock()
	f.nameCalls++
	fn := f.nameFn
	if fn != nil {
		f.mu.Unlock()
		return fn(workflowID)
	}
	defer f.mu.Unlock()
	name, ok := f.names[workflowID]
	return name, ok
}

func (f *fakeResolver) ResolveWorkflow(ctx context.Context, workflowID string) (n8n.Workflow, bool) {
	f.mu.Lock()
	block := f.blockFull
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fullCalls++
	wf, ok := f.workflows[workflowID]
	return wf, ok
}

func (f *fakeResolver) setName(workflowID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[workflowID] = name
}

func (f *fakeResolver) setWorkflow(workflowID string, wf n8n.Workflow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[workflowID] = wf
}

type delivery struct {
	ConnectionIDs []string
	Event         string
	Payload       interface{}
}

type fakeGateway struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (g *fakeGateway) Send(connectionIDs []string, event string, payload interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := append([]string(nil), connectionIDs...)
	g.deliveries = append(g.deliveries, delivery{ConnectionIDs: ids, Event: event, Payload: payload})
}

func (g *fakeGateway) ofEvent(event string) []delivery {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []delivery
	for _, d := range g.deliveries {
		if d.Event == event {
			out = append(out, d)
		}
	}
	return out
}

func (g *fakeGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deliveries = nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestService() (*Service, *fakeResolver, *fakeGateway, *fakeClock) {
	resolver := &fakeResolver{
		names:     make(map[string]string),
		workflows: make(map[string]n8n.Workflow),
	}
	gateway := &fakeGateway{}
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	svc := New(resolver, gateway, zerolog.Nop())
	svc.now = clock.Now
	return svc, resolver, gateway, clock
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestJoin(t *testing.T) {
	t.Run("creates room with resolved name and broadcasts membership", func(t *testing.T) {
		svc, resolver, gateway, _ := newTestService()
		resolver.setName("wf1", "Invoice Flow")

		svc.Register("a")
		svc.Authenticate("a", "alice", "Alice")
		err := svc.Join(context.Background(), "a", "wf1", "")
		assert.NoError(t, err)

		snapshots := svc.AllSnapshots()
		assert.Len(t, snapshots, 1)
		assert.Equal(t, "wf1", snapshots[0].ID)
		assert.Equal(t, "Invoice Flow", snapshots[0].Name)
		assert.Equal(t, []WorkflowUser{{Username: "alice", DisplayName: "Alice"}}, snapshots[0].Users)

		updates := gateway.ofEvent(EventUsersUpdate)
		assert.Len(t, updates, 1)
		assert.Equal(t, []string{"a"}, updates[0].ConnectionIDs)
		members := updates[0].Payload.([]Member)
		assert.Len(t, members, 1)
		assert.Equal(t, "alice", members[0].Username)
		assert.Equal(t, "Invoice Flow", members[0].WorkflowName)
	})

	t.Run("empty workflow id is rejected with no state change", func(t *testing.T) {
		svc, _, gateway, _ := newTestService()
		svc.Register("a")

		err := svc.Join(context.Background(), "a", "", "name")
		assert.Equal(t, ErrWorkflowRequired, err)
		assert.Len(t, svc.AllSnapshots(), 0)
		assert.Len(t, gateway.deliveries, 0)
	})

	t.Run("unknown connection is rejected", func(t *testing.T) {
		svc, resolver, _, _ := newTestService()
		resolver.setName("wf1", "Flow")
		err := svc.Join(context.Background(), "ghost", "wf1", "")
		assert.Equal(t, ErrUnknownConnection, err)
		assert.Len(t, svc.AllSnapshots(), 0)
	})

	t.Run("client-supplied real name wins without a resolver call", func(t *testing.T) {
		svc, resolver, _, _ := newTestService()
		svc.Register("a")

		err := svc.Join(context.Background(), "a", "wf1", "My Flow")
		assert.NoError(t, err)
		assert.Equal(t, 0, resolver.nameCalls)

		snapshots := svc.AllSnapshots()
		assert.Equal(t, "My Flow", snapshots[0].Name)
	})

	t.Run("placeholder candidate is treated as absent", func(t *testing.T) {
		svc, resolver, _, _ := newTestService()
		resolver.setName("wf1", "Real Name")
		svc.Register("a")

		err := svc.Join(context.Background(), "a", "wf1", PlaceholderName("wf1"))
		assert.NoError(t, err)
		assert.Equal(t, "Real Name", svc.AllSnapshots()[0].Name)
	})

	t.Run("falls back to existing room name when resolution fails", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		svc.Register("a")
		svc.Register("b")

		assert.NoError(t, svc.Join(context.Background(), "a", "wf1", "Known Name"))
		assert.NoError(t, svc.Join(context.Background(), "b", "wf1", ""))

		snapshots := svc.AllSnapshots()
		assert.Equal(t, "Known Name", snapshots[0].Name)
		assert.Len(t, snapshots[0].Users, 2)
	})

	t.Run("switching workflows leaves the old room first", func(t *testing.T) {
		svc, resolver, gateway, _ := newTestService()
		resolver.setName("wf1", "One")
		resolver.setName("wf2", "Two")
		svc.Register("a")
		svc.Register("b")

		assert.NoError(t, svc.Join(context.Background(), "a", "wf1", ""))
		assert.NoError(t, svc.Join(context.Background(), "b", "wf1", ""))
		gateway.reset()

		assert.NoError(t, svc.Join(context.Background(), "b", "wf2", ""))

		snapshots := svc.AllSnapshots()
		assert.Len(t, snapshots, 2)
		for _, snap := range snapshots {
			assert.Len(t, snap.Users, 1)
		}

		// The remaining wf1 member was told about the departure.
		updates := gateway.ofEvent(EventUsersUpdate)
		var sawWf1 bool
		for _, u := range updates {
			if contains(u.ConnectionIDs, "a") && len(u.ConnectionIDs) == 1 {
				sawWf1 = true
			}
		}
		assert.True(t, sawWf1)
	})

	t.Run("rejoining the sole room then leaving deletes it", func(t *testing.T) {
		svc, resolver, _, _ := newTestService()
		resolver.setName("wf1", "One")
		resolver.setName("wf2", "Two")
		svc.Register("a")

		assert.NoError(t, svc.Join(context.Background(), "a", "wf1", ""))
		assert.NoError(t, svc.Join(context.Background(), "a", "wf2", ""))

		snapshots := svc.AllSnapshots()
		assert.Len(t, snapshots, 1)
		assert.Equal(t, "wf2", snapshots[0].ID)
	})

	t.Run("real name propagates to members who joined under the placeholder", func(t *testing.T) {
		svc, resolver, _, _ := newTestService()
		svc.Register("a")
		svc.Register("b")

		// First joiner gets the placeholder, n8n being down.
		assert.NoError(t, svc.Join(context.Background(), "a", "wf1", ""))

		resolver.setName("wf1", "Fresh Name")
		assert.NoError(t, svc.Join(context.Background(), "b", "wf1", ""))

		members := svc.Snapshot("wf1")
		assert.Len(t, members, 2)
		for _, m := range members {
			assert.Equal(t, "Fresh Name", m.WorkflowName)
		}
	})

	t.Run("placeholder room resolves asynchronously and notifies", func(t *testing.T) {
		svc, resolver, gateway, _ := newTestService()
		svc.Register("a")

		// The synchronous attempt inside Join fails; the scheduled
		// background attempt is held at the gate until the room exists
		// with its placeholder name, then succeeds.
		var mu sync.Mutex
		calls := 0
		gate := make(chan struct{})
		resolver.nameFn = func(workflowID string) (string, bool) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				return "", false
			}
			<-gate
			return "Late Name", true
		}

		assert.NoError(t, svc.Join(context.Background(), "a", "wf1", ""))
		assert.Equal(t, PlaceholderName("wf1"), svc.AllSnapshots()[0].Name)
		close(gate)

		waitFor(t, func() bool {
			return len(gateway.ofEvent(EventNameUpdated)) > 0
		})
		update := gateway.ofEvent(EventNameUpdated)[0].Payload.(NameUpdate)
		assert.Equal(t, "wf1", update.WorkflowID)
		assert.Equal(t, "Late Name", update.WorkflowName)

		waitFor(t, func() bool {
			return svc.AllSnapshots()[0].Name == "Late Name"
		})
		// The membership snapshot accompanies the rename.
		assert.True(t, len(gateway.ofEvent(EventUsersUpdate)) >= 2)
	})
}

func TestLeaveAndDisconnect(t *testing.T) {
	t.Run("room exists iff member set is non-empty", func(t *testing.T) {
		svc, resolver, _, _ := newTestService()
		resolver.setName("wf1", "Flow")
		svc.Register("a")
		svc.Register("b")

		assert.NoError(t, svc.Join(context.Background(), "a", "wf1", ""))
		assert.NoError(t, svc.Join(context.Background(), "b", "wf1", ""))
		assert.Len(t, svc.AllSnapshots(), 1)

		svc.Leave("a", "wf1")
		assert.Len(t, svc.AllSnapshots(), 1)
		assert.Len(t, svc.Snapshot("wf1"), 1)

		svc.Leave("b", "wf1")
		assert.Len(t, svc.AllSnapshots(), 0)
	})

	t.Run("leave notifies remaining members only", func(t *testing.T) {
		svc, resolver, gateway, _ := newTestService()
		resolver.setName("wf1", "Flow")
		svc.Register("a")
		svc.Register("b")
		assert.NoError(t, svc.Join(context.Background(), "a", "wf1", ""))
		assert.NoError(t, svc.Join(context.Background(), "b", "wf1", ""))
		gateway.reset()

		svc.Leave("b", "wf1")
		updates := gateway.ofEvent(EventUsersUpdate)
		assert.Len(t, updates, 1)
		assert.Equal(t, []string{"a"}, updates[0].ConnectionIDs)
	})

	t.Run("disconnect leaves the room then removes the connection", func(t *testing.T) {
		svc, resolver, gateway, _ := newTestService()
		resolver.setName("wf1", "Flow")
		svc.Register("a")
		svc.Register("b")
		assert.NoError(t, svc.Join(context.Background(), "a", "wf1", ""))
		assert.NoError(t, svc.Join(context.Background(), "b", "wf1", ""))
		gateway.reset()

		svc.Disconnect("b")

		members := svc.Snapshot("wf1")
		assert.Len(t, members, 1)
		assert.Equal(t, "a", members[0].ConnectionID)

		// The snapshot broadcast to the survivor no longer lists b.
		updates := gateway.ofEvent(EventUsersUpdate)
		assert.Len(t, updates, 1)
		snapshot := updates[0].Payload.([]Member)
		assert.Len(t, snapshot, 1)
		assert.Equal(t, "a", snapshot[0].ConnectionID)
	})

	t.Run("disconnect of unknown connection is a no-op", func(t *testing.T) {
		svc, _, gateway, _ := newTestService()
		svc.Disconnect("ghost")
		assert.Len(t, gateway.deliveries, 0)
	})
}

func TestSnapshot(t *testing.T) {
	t.Run("members without a connection record are dropped", func(t *testing.T) {
		svc, resolver, _, _ := newTestService()
		resolver.setName("wf1", "Flow")
		svc.Register("a")
		svc.Register("b")
		assert.NoError(t, svc.Join(context.Background(), "a", "wf1", ""))
		assert.NoError(t, svc.Join(context.Background(), "b", "wf1", ""))

		// Simulate a half-cleaned state: the connection record is gone but
		// the room still lists the member.
		svc.mu.Lock()
		svc.connections.Delete("b")
		svc.mu.Unlock()

		members := svc.Snapshot("wf1")
		assert.Len(t, members, 1)
		assert.Equal(t, "a", members[0].ConnectionID)
	})

	t.Run("unknown workflow snapshots to empty", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		assert.Len(t, svc.Snapshot("nope"), 0)
	})
}
