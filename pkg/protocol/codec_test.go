package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/corelay-dev/corelay/pkg/state"
)

func sampleUpdate() state.StateUpdate {
	return state.StateUpdate{
		Create: []state.RoomObject{
			{
				ID:         7,
				Owner:      "user-a",
				Disposable: true,
				Name:       "avatar",
				Props: state.Props{
					state.PropPosition: state.Vector(1, 2.5, -3),
					state.PropPrefab:   state.String("avatar"),
				},
			},
		},
		Update: []state.RoomObject{
			{ID: 9, Props: state.Props{state.PropIsHidden: state.Bool(true)}},
		},
		Delete: []int64{-4, 12},
		Props:  state.Props{"scene": state.String("lobby"), "round": state.Number(3)},
	}
}

func roundTrip(t *testing.T, c Codec, m Message) Message {
	t.Helper()
	data, err := c.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal(%s): %v", m.Kind, err)
	}
	got, err := c.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal(%s): %v", m.Kind, err)
	}
	if got.Kind != m.Kind {
		t.Fatalf("round trip kind = %s, want %s", got.Kind, m.Kind)
	}
	return got
}

func TestCodecsRoundTripAllKinds(t *testing.T) {
	messages := []Message{
		NewConnectionReady("sid-123"),
		NewCreateJoinRoom(CreateJoinRequest{
			Room:     "standup",
			Username: "ada",
			UserID:   "user-a",
			Device:   state.DeviceHeadset,
		}),
		NewRoomCreated("room-1"),
		NewRoomJoined(sampleUpdate()),
		NewUserJoined("ada"),
		NewUserLeft("grace"),
		NewStateUpdate(sampleUpdate()),
		NewRejoinFailed("unknown session"),
		NewPulse(),
		NewBlip(),
	}

	for _, c := range []Codec{JSONCodec{}, BinaryCodec{}} {
		for _, m := range messages {
			got := roundTrip(t, c, m)

			switch m.Kind {
			case KindConnectionReady:
				if got.Ready.SessionID != m.Ready.SessionID {
					t.Errorf("session id = %q, want %q", got.Ready.SessionID, m.Ready.SessionID)
				}
			case KindCreateJoinRoom:
				if *got.CreateJoin != *m.CreateJoin {
					t.Errorf("create-join = %+v, want %+v", *got.CreateJoin, *m.CreateJoin)
				}
			case KindStateUpdate:
				assertUpdateEqual(t, *got.StateUpdate, *m.StateUpdate)
			case KindRoomJoined:
				assertUpdateEqual(t, got.RoomJoined.Update, m.RoomJoined.Update)
			case KindRejoinFailed:
				if got.RejoinFailed.Error != m.RejoinFailed.Error {
					t.Errorf("rejoin error = %q, want %q", got.RejoinFailed.Error, m.RejoinFailed.Error)
				}
			}
		}
	}
}

func assertUpdateEqual(t *testing.T, got, want state.StateUpdate) {
	t.Helper()
	if len(got.Create) != len(want.Create) || len(got.Update) != len(want.Update) {
		t.Fatalf("object counts = %d/%d, want %d/%d",
			len(got.Create), len(got.Update), len(want.Create), len(want.Update))
	}
	for i := range want.Create {
		g, w := got.Create[i], want.Create[i]
		if g.ID != w.ID || g.Owner != w.Owner || g.Disposable != w.Disposable || g.Name != w.Name {
			t.Errorf("create[%d] = %+v, want %+v", i, g, w)
		}
		if !g.Props.Equal(w.Props) {
			t.Errorf("create[%d] props differ: %+v vs %+v", i, g.Props, w.Props)
		}
	}
	if len(got.Delete) != len(want.Delete) {
		t.Fatalf("delete = %v, want %v", got.Delete, want.Delete)
	}
	for i := range want.Delete {
		if got.Delete[i] != want.Delete[i] {
			t.Errorf("delete[%d] = %d, want %d", i, got.Delete[i], want.Delete[i])
		}
	}
	if !got.Props.Equal(want.Props) {
		t.Errorf("props = %+v, want %+v", got.Props, want.Props)
	}
}

func TestJSONEnvelopeShape(t *testing.T) {
	data, err := JSONCodec{}.Marshal(NewUserJoined("ada"))
	if err != nil {
		t.Fatal(err)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if string(env["msgType"]) != `"room:user:joined"` {
		t.Errorf("msgType = %s", env["msgType"])
	}
	if _, ok := env["data"]; !ok {
		t.Error("envelope missing data field")
	}
}

func TestJSONHeartbeatOmitsData(t *testing.T) {
	data, err := JSONCodec{}.Marshal(NewPulse())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("data")) {
		t.Errorf("pulse envelope should omit data: %s", data)
	}
}

func TestJSONUnmarshalUnknownKind(t *testing.T) {
	_, err := JSONCodec{}.Unmarshal([]byte(`{"msgType":"room:exploded","data":{}}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestJSONUnmarshalMissingPayload(t *testing.T) {
	_, err := JSONCodec{}.Unmarshal([]byte(`{"msgType":"room:user:joined"}`))
	if !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("err = %v, want ErrMissingPayload", err)
	}
}

func TestBinaryHeartbeatIsOneByte(t *testing.T) {
	for _, m := range []Message{NewPulse(), NewBlip()} {
		data, err := BinaryCodec{}.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) != 1 {
			t.Errorf("%s frame is %d bytes, want 1", m.Kind, len(data))
		}
	}
}

func TestBinaryUnmarshalUnknownTag(t *testing.T) {
	_, err := BinaryCodec{}.Unmarshal([]byte{0xFF})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestBinaryUnmarshalTruncated(t *testing.T) {
	data, err := BinaryCodec{}.Marshal(NewStateUpdate(sampleUpdate()))
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{1, 2, len(data) / 2, len(data) - 1} {
		if _, err := (BinaryCodec{}).Unmarshal(data[:n]); err == nil {
			t.Errorf("truncated at %d bytes: decode succeeded", n)
		}
	}
}

func TestUnmarshalEmptyFrame(t *testing.T) {
	for _, c := range []Codec{JSONCodec{}, BinaryCodec{}} {
		if _, err := c.Unmarshal(nil); !errors.Is(err, ErrEmptyFrame) {
			t.Errorf("err = %v, want ErrEmptyFrame", err)
		}
	}
}

func TestMarshalRejectsMismatchedPayload(t *testing.T) {
	m := Message{Kind: KindStateUpdate} // payload left nil
	for _, c := range []Codec{JSONCodec{}, BinaryCodec{}} {
		if _, err := c.Marshal(m); !errors.Is(err, ErrMissingPayload) {
			t.Errorf("err = %v, want ErrMissingPayload", err)
		}
	}
}

func TestForBinary(t *testing.T) {
	if ForBinary(true).Binary() != true {
		t.Error("ForBinary(true) returned a text codec")
	}
	if ForBinary(false).Binary() != false {
		t.Error("ForBinary(false) returned a binary codec")
	}
}
