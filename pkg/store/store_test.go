package store

import (
	"encoding/json"
	"testing"

	"github.com/corelay-dev/corelay/pkg/state"
)

func TestKeyRoundTrip(t *testing.T) {
	if got := RoomIDFromKey(roomKey("abc-123")); got != "abc-123" {
		t.Errorf("room id = %q", got)
	}
	if got := SessionIDFromKey(socketKey("sid-9")); got != "sid-9" {
		t.Errorf("session id = %q", got)
	}
	if got := RoomIDFromKey("unrelated:key"); got != "" {
		t.Errorf("foreign key parsed as room id %q", got)
	}
}

func TestStaleRoomSelection(t *testing.T) {
	occupied := state.NewRoom("occupied")
	occupied.Participants = []state.Participant{{ID: "u1", SessionID: "sid-1"}}

	empty := state.NewRoom("empty")

	orphaned := state.NewRoom("orphaned")
	orphaned.Participants = []state.Participant{{ID: "u2", SessionID: "sid-gone"}}

	assigned := map[string]bool{occupied.ID: true}

	stale := staleRooms([]*state.Room{occupied, empty, orphaned}, assigned)
	if len(stale) != 2 {
		t.Fatalf("stale rooms = %d, want 2", len(stale))
	}
	for _, room := range stale {
		if room.ID == occupied.ID {
			t.Error("occupied room marked stale")
		}
	}
}

func TestStaleRoomSelectionAllLive(t *testing.T) {
	room := state.NewRoom("live")
	room.Participants = []state.Participant{{ID: "u1"}}
	if got := staleRooms([]*state.Room{room}, map[string]bool{room.ID: true}); got != nil {
		t.Fatalf("stale = %v, want none", got)
	}
}

func TestChannelMessageRoundTrip(t *testing.T) {
	update := state.StateUpdate{Delete: []int64{4}}
	data, err := encodeChannelMessage(ChannelRoomStateUpdate, StateUpdateEvent{
		RoomID:   "room-1",
		SocketID: "sid-1",
		Update:   update,
		Origin:   "server-a",
	})
	if err != nil {
		t.Fatal(err)
	}

	var m ChannelMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.MsgType != ChannelRoomStateUpdate {
		t.Errorf("msgType = %q", m.MsgType)
	}

	var event StateUpdateEvent
	if err := m.DecodePayload(&event); err != nil {
		t.Fatal(err)
	}
	if event.RoomID != "room-1" || event.Origin != "server-a" {
		t.Errorf("event = %+v", event)
	}
	if len(event.Update.Delete) != 1 || event.Update.Delete[0] != 4 {
		t.Errorf("update = %+v", event.Update)
	}
}

func TestAllChannelsCoverEveryEvent(t *testing.T) {
	seen := map[string]bool{}
	for _, ch := range allChannels() {
		seen[ch] = true
	}
	for _, want := range []string{
		ChannelRoomCreated, ChannelRoomUserJoined, ChannelRoomUserLeft,
		ChannelRoomClosed, ChannelRoomStateUpdate, ChannelStaleRoomsRemoved,
	} {
		if !seen[want] {
			t.Errorf("channel %s not subscribed", want)
		}
	}
}
