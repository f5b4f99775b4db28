// Package matrix is the Matrix messaging gateway: it turns room messages
// addressed to the bot into inbound events and delivers replies.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// directCacheTTL bounds how long a room's member count is trusted.
const directCacheTTL = 5 * time.Minute

const defaultShutdownGrace = 30 * time.Second

// Config holds Matrix client configuration
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms, when non-empty, restricts the bot to these room IDs. They are
	// joined at start.
	Rooms []string
	// DisplayName is matched as a textual mention in group rooms.
	DisplayName string
	// SyncStore persists the /sync position across restarts. When nil,
	// mautrix's in-memory store is used and recent room history may be
	// replayed on every restart.
	SyncStore mautrix.SyncStore
	// ShutdownGrace bounds how long Run waits for in-flight handlers after
	// ctx is cancelled before cancelling them too. Defaults to 30s.
	ShutdownGrace time.Duration
}

// Inbound is one message the bot should answer.
type Inbound struct {
	RoomID     string
	EventID    string
	Sender     string
	SenderName string
	Text       string
	ReplyQuote string
	Direct     bool
	Timestamp  time.Time
}

// Handler processes an addressed message.
type Handler func(ctx context.Context, msg *Inbound)

// homeserver is the subset of the mautrix client used to classify messages.
type homeserver interface {
	JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error)
	GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error)
}

// Client wraps the Matrix client
type Client struct {
	mxc    *mautrix.Client
	hs     homeserver
	cfg    Config
	botID  id.UserID
	rooms  map[string]struct{}
	logger *slog.Logger

	mu      sync.Mutex
	members map[id.RoomID]roomMembers
}

type roomMembers struct {
	names     map[id.UserID]string
	fetchedAt time.Time
}

// New creates a new Matrix client. If logger is nil, the default slog logger
// is used.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mxc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	if cfg.SyncStore != nil {
		mxc.Store = cfg.SyncStore
		logger.Info("Matrix sync store: using persistent store")
	} else {
		logger.Warn("Matrix sync store: no DB configured, using in-memory store (history may replay on restart)")
	}

	c := newClient(cfg, mxc, logger)
	c.mxc = mxc
	return c, nil
}

func newClient(cfg Config, hs homeserver, logger *slog.Logger) *Client {
	rooms := make(map[string]struct{}, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		rooms[r] = struct{}{}
	}
	return &Client{
		hs:      hs,
		cfg:     cfg,
		botID:   id.UserID(cfg.UserID),
		rooms:   rooms,
		logger:  logger,
		members: make(map[id.RoomID]roomMembers),
	}
}

// Run joins the configured rooms and syncs until ctx is cancelled, calling
// handler for every addressed message. Handlers run off the sync loop, one
// worker per room; their context outlives ctx so replies in flight at
// shutdown can finish. Run returns only after every handler has returned.
// Sync failures are retried with exponential back-off.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	syncer, ok := c.mxc.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}

	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()
	d := newDispatcher(handlerCtx, handler)
	defer c.finishHandlers(d, cancelHandlers)

	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		msg, ok := c.classify(ctx, evt)
		if !ok {
			return
		}
		d.submit(msg)
	})
	syncer.OnEventType(event.StateMember, c.handleMembership)

	for _, roomID := range c.cfg.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.mxc.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		c.logger.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// finishHandlers waits for in-flight handlers, cancelling them once the
// shutdown grace period has passed.
func (c *Client) finishHandlers(d *dispatcher, cancel context.CancelFunc) {
	grace := c.cfg.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	if d.wait(grace) {
		return
	}
	c.logger.Warn("matrix: handlers still running after shutdown grace; cancelling", "grace", grace)
	cancel()
	d.wg.Wait()
}

// Reply sends text as a reply to eventID.
func (c *Client) Reply(ctx context.Context, roomID, eventID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
		},
	}
	_, err := c.mxc.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// SetTyping sets typing indicator
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	_, err := c.mxc.UserTyping(ctx, id.RoomID(roomID), typing, timeout)
	if err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// classify decides whether evt is addressed to the bot and extracts the
// inbound message. Direct rooms (two members) address every message; group
// rooms need a mention or a reply to one of the bot's messages.
func (c *Client) classify(ctx context.Context, evt *event.Event) (*Inbound, bool) {
	if evt.Sender == c.botID {
		return nil, false
	}
	if len(c.rooms) > 0 {
		if _, ok := c.rooms[evt.RoomID.String()]; !ok {
			return nil, false
		}
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return nil, false
	}

	quoteSender, quote, text := SplitReplyFallback(content.Body)
	if target := replyTarget(content); target != "" && quote == "" {
		quoteSender, quote = c.fetchQuoted(ctx, evt.RoomID, target)
	}

	names, err := c.roomMembers(ctx, evt.RoomID)
	if err != nil {
		c.logger.Warn("matrix: member lookup failed, treating room as group",
			"room_id", evt.RoomID,
			"err", err,
		)
	}
	direct := len(names) == 2

	if !direct {
		addressed := Mentioned(content, text, c.botID, c.cfg.DisplayName) ||
			(replyTarget(content) != "" && quoteSender == c.botID)
		if !addressed {
			return nil, false
		}
		text = StripMention(text, c.botID, c.cfg.DisplayName)
	}
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	senderName := names[evt.Sender]
	if senderName == "" {
		senderName = localpart(evt.Sender)
	}
	return &Inbound{
		RoomID:     evt.RoomID.String(),
		EventID:    evt.ID.String(),
		Sender:     evt.Sender.String(),
		SenderName: senderName,
		Text:       text,
		ReplyQuote: quote,
		Direct:     direct,
		Timestamp:  time.UnixMilli(evt.Timestamp),
	}, true
}

// fetchQuoted loads the replied-to event for clients that send no fallback.
func (c *Client) fetchQuoted(ctx context.Context, roomID id.RoomID, eventID id.EventID) (id.UserID, string) {
	evt, err := c.hs.GetEvent(ctx, roomID, eventID)
	if err != nil {
		c.logger.Debug("matrix: replied-to event unavailable", "room_id", roomID, "event_id", eventID, "err", err)
		return "", ""
	}
	if err := evt.Content.ParseRaw(evt.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		return evt.Sender, ""
	}
	msg := evt.Content.AsMessage()
	if msg == nil {
		return evt.Sender, ""
	}
	_, _, body := SplitReplyFallback(msg.Body)
	return evt.Sender, body
}

// roomMembers returns the joined members' display names, cached briefly.
func (c *Client) roomMembers(ctx context.Context, roomID id.RoomID) (map[id.UserID]string, error) {
	c.mu.Lock()
	cached, ok := c.members[roomID]
	c.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < directCacheTTL {
		return cached.names, nil
	}

	resp, err := c.hs.JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	names := make(map[id.UserID]string, len(resp.Joined))
	for uid, m := range resp.Joined {
		names[uid] = m.DisplayName
	}

	c.mu.Lock()
	c.members[roomID] = roomMembers{names: names, fetchedAt: time.Now()}
	c.mu.Unlock()
	return names, nil
}

// handleMembership accepts invites and invalidates the member cache.
func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	c.mu.Lock()
	delete(c.members, evt.RoomID)
	c.mu.Unlock()

	if evt.GetStateKey() != c.botID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if len(c.rooms) > 0 {
		if _, ok := c.rooms[evt.RoomID.String()]; !ok {
			c.logger.Info("matrix: ignoring invite to unlisted room", "room_id", evt.RoomID, "inviter", evt.Sender)
			return
		}
	}
	if err := c.joinRoom(ctx, evt.RoomID); err != nil {
		c.logger.Warn("matrix: failed to accept invite", "room_id", evt.RoomID, "err", err)
		return
	}
	c.logger.Info("matrix: joined room on invite", "room_id", evt.RoomID, "inviter", evt.Sender)
}

// joinRoom attempts to join a room
func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.mxc.JoinRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("joinRoom: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
