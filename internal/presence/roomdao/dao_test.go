package roomdao

import (
	"testing"

	"github.com/tj/assert"
)

func TestRoomMembership(t *testing.T) {
	t.Run("add is idempotent", func(t *testing.T) {
		room := &Room{WorkflowID: "wf1", Name: "Flow"}
		room.AddMember("a")
		room.AddMember("a")
		room.AddMember("b")
		assert.Equal(t, []string{"a", "b"}, room.Members)
	})

	t.Run("remove reports emptiness", func(t *testing.T) {
		room := &Room{WorkflowID: "wf1"}
		room.AddMember("a")
		room.AddMember("b")

		assert.False(t, room.RemoveMember("a"))
		assert.Equal(t, []string{"b"}, room.Members)
		assert.True(t, room.RemoveMember("b"))
	})

	t.Run("removing an absent member is harmless", func(t *testing.T) {
		room := &Room{WorkflowID: "wf1"}
		room.AddMember("a")
		assert.False(t, room.RemoveMember("ghost"))
		assert.Equal(t, []string{"a"}, room.Members)
	})
}

func TestDAO(t *testing.T) {
	dao := New()

	_, ok := dao.Get("wf1")
	assert.False(t, ok)

	room := dao.Create("wf1", "Flow")
	got, ok := dao.Get("wf1")
	assert.True(t, ok)
	assert.Equal(t, room, got)
	assert.Len(t, dao.List(), 1)

	dao.Delete("wf1")
	_, ok = dao.Get("wf1")
	assert.False(t, ok)
}
