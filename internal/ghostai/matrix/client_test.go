package matrix

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type fakeHomeserver struct {
	members     map[id.RoomID][]id.UserID
	names       map[id.UserID]string
	events      map[id.EventID]*event.Event
	memberCalls int
	memberErr   error
}

func (f *fakeHomeserver) JoinedMembers(_ context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error) {
	f.memberCalls++
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	resp := &mautrix.RespJoinedMembers{Joined: map[id.UserID]mautrix.JoinedMember{}}
	for _, uid := range f.members[roomID] {
		resp.Joined[uid] = mautrix.JoinedMember{DisplayName: f.names[uid]}
	}
	return resp, nil
}

func (f *fakeHomeserver) GetEvent(_ context.Context, _ id.RoomID, eventID id.EventID) (*event.Event, error) {
	evt, ok := f.events[eventID]
	if !ok {
		return nil, errors.New("not found")
	}
	return evt, nil
}

const (
	dmRoom    = id.RoomID("!dm:example.org")
	groupRoom = id.RoomID("!group:example.org")
	ana       = id.UserID("@ana:example.org")
)

func newTestClient(t *testing.T, rooms ...string) (*Client, *fakeHomeserver) {
	t.Helper()
	hs := &fakeHomeserver{
		members: map[id.RoomID][]id.UserID{
			dmRoom:    {botID, ana},
			groupRoom: {botID, ana, "@bo:example.org"},
		},
		names:  map[id.UserID]string{ana: "Ana", botID: "Ghost"},
		events: map[id.EventID]*event.Event{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := newClient(Config{UserID: botID.String(), DisplayName: "Ghost Bot", Rooms: rooms}, hs, logger)
	return c, hs
}

func textEvent(room id.RoomID, sender id.UserID, content *event.MessageEventContent) *event.Event {
	if content.MsgType == "" {
		content.MsgType = event.MsgText
	}
	return &event.Event{
		Type:      event.EventMessage,
		RoomID:    room,
		Sender:    sender,
		ID:        "$evt",
		Timestamp: 1_700_000_000_000,
		Content:   event.Content{Parsed: content},
	}
}

func TestClassify_DirectRoomAddressesEverything(t *testing.T) {
	c, hs := newTestClient(t)
	ctx := context.Background()

	msg, ok := c.classify(ctx, textEvent(dmRoom, ana, &event.MessageEventContent{Body: "hello"}))
	require.True(t, ok)
	assert.True(t, msg.Direct)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "Ana", msg.SenderName)
	assert.Equal(t, dmRoom.String(), msg.RoomID)
	assert.Equal(t, int64(1_700_000_000_000), msg.Timestamp.UnixMilli())

	_, ok = c.classify(ctx, textEvent(dmRoom, ana, &event.MessageEventContent{Body: "again"}))
	require.True(t, ok)
	assert.Equal(t, 1, hs.memberCalls, "member list is cached")
}

func TestClassify_GroupRoomNeedsMention(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, ok := c.classify(ctx, textEvent(groupRoom, ana, &event.MessageEventContent{Body: "just chatting"}))
	assert.False(t, ok)

	msg, ok := c.classify(ctx, textEvent(groupRoom, ana, &event.MessageEventContent{Body: "@ghost what is Go?"}))
	require.True(t, ok)
	assert.False(t, msg.Direct)
	assert.Equal(t, "what is Go?", msg.Text)

	_, ok = c.classify(ctx, textEvent(groupRoom, ana, &event.MessageEventContent{Body: "@ghost"}))
	assert.False(t, ok, "a bare mention carries no text")
}

func TestClassify_ReplyToBotInGroup(t *testing.T) {
	c, _ := newTestClient(t)
	content := &event.MessageEventContent{
		Body:      "> <@ghost:example.org> Paris is the capital\n\nand of Italy?",
		RelatesTo: &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: "$prev"}},
	}
	msg, ok := c.classify(context.Background(), textEvent(groupRoom, ana, content))
	require.True(t, ok)
	assert.Equal(t, "and of Italy?", msg.Text)
	assert.Equal(t, "Paris is the capital", msg.ReplyQuote)
}

func TestClassify_ReplyWithoutFallbackFetchesEvent(t *testing.T) {
	c, hs := newTestClient(t)
	hs.events["$prev"] = &event.Event{
		Type:    event.EventMessage,
		Sender:  botID,
		Content: event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: "Paris"}},
	}
	content := &event.MessageEventContent{
		Body:      "are you sure?",
		RelatesTo: &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: "$prev"}},
	}
	msg, ok := c.classify(context.Background(), textEvent(groupRoom, ana, content))
	require.True(t, ok)
	assert.Equal(t, "Paris", msg.ReplyQuote)
	assert.Equal(t, "are you sure?", msg.Text)
}

func TestClassify_ReplyToSomeoneElseInGroupIgnored(t *testing.T) {
	c, _ := newTestClient(t)
	content := &event.MessageEventContent{
		Body:      "> <@bo:example.org> lunch?\n\nsure",
		RelatesTo: &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: "$prev"}},
	}
	_, ok := c.classify(context.Background(), textEvent(groupRoom, ana, content))
	assert.False(t, ok)
}

func TestClassify_Filters(t *testing.T) {
	c, _ := newTestClient(t, dmRoom.String())
	ctx := context.Background()

	_, ok := c.classify(ctx, textEvent(dmRoom, botID, &event.MessageEventContent{Body: "own message"}))
	assert.False(t, ok, "own messages are ignored")

	_, ok = c.classify(ctx, textEvent(groupRoom, ana, &event.MessageEventContent{Body: "@ghost hi"}))
	assert.False(t, ok, "unlisted rooms are ignored")

	_, ok = c.classify(ctx, textEvent(dmRoom, ana, &event.MessageEventContent{MsgType: event.MsgImage, Body: "cat.png"}))
	assert.False(t, ok, "non-text messages are ignored")
}

func TestClassify_MemberLookupFailureFallsBackToGroup(t *testing.T) {
	c, hs := newTestClient(t)
	hs.memberErr = errors.New("boom")

	_, ok := c.classify(context.Background(), textEvent(dmRoom, ana, &event.MessageEventContent{Body: "hello"}))
	assert.False(t, ok)

	msg, ok := c.classify(context.Background(), textEvent(dmRoom, ana, &event.MessageEventContent{Body: "@ghost hello"}))
	require.True(t, ok)
	assert.Equal(t, "ana", msg.SenderName)
}
