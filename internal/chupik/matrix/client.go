// Package matrix connects the engine to Matrix rooms.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/devdenneg/chupik/common/redact"
	"github.com/devdenneg/chupik/common/trace"
	"github.com/devdenneg/chupik/internal/chupik/engine"
)

const (
	typingTimeout = 30 * time.Second
	roomQueueSize = 64

	sentTTL    = 24 * time.Hour
	membersTTL = 10 * time.Minute
	namesTTL   = time.Hour
)

// Config holds the Matrix connection settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string

	// DisplayName is matched case-insensitively in message bodies as a
	// mention, in addition to the user id and m.mentions.
	DisplayName string

	// Rooms are joined on start. When non-empty, messages from other rooms
	// are ignored.
	Rooms []string

	// Typing sends typing notifications while an addressed message is being
	// answered.
	Typing bool

	// DB persists the sync token. When nil an in-memory store is used and
	// recent history is replayed on restart; events older than the start
	// time are skipped either way.
	DB *sql.DB
}

// MessageHandler is the part of the engine the client drives.
type MessageHandler interface {
	Handle(ctx context.Context, in engine.Inbound) (engine.Outcome, error)
}

// api is the subset of *mautrix.Client used once connected.
type api interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
	JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error)
	GetProfile(ctx context.Context, mxid id.UserID) (*mautrix.RespUserProfile, error)
}

// Client forwards room messages to the engine and sends its replies. It
// implements engine.Sender.
type Client struct {
	cfg    Config
	userID id.UserID
	mx     *mautrix.Client
	api    api

	handler   MessageHandler
	startedAt time.Time

	// sent remembers the agent's own event ids for reply detection.
	sent    *cache.Cache
	members *cache.Cache
	names   *cache.Cache

	mu     sync.Mutex
	queues map[id.RoomID]chan *event.Event
	wg     sync.WaitGroup

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ engine.Sender = (*Client)(nil)

// New creates the client. It does not connect until Start.
func New(cfg Config) (*Client, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix: homeserver, user id and access token are required")
	}
	mx, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	if cfg.DB != nil {
		mx.Store = NewDBSyncStore(cfg.DB)
		slog.Info("matrix: using persistent sync store")
	} else {
		slog.Warn("matrix: no database configured, using in-memory sync store")
	}

	c := newClient(cfg, mx)
	c.mx = mx
	return c, nil
}

func newClient(cfg Config, a api) *Client {
	return &Client{
		cfg:       cfg,
		userID:    id.UserID(cfg.UserID),
		api:       a,
		startedAt: time.Now(),
		sent:      cache.New(sentTTL, time.Hour),
		members:   cache.New(membersTTL, membersTTL),
		names:     cache.New(namesTTL, namesTTL),
		queues:    make(map[id.RoomID]chan *event.Event),
		stopCh:    make(chan struct{}),
	}
}

// Start joins the configured rooms and begins syncing in the background.
// Messages of one room are handled in arrival order; rooms are handled
// concurrently.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	if c.mx == nil {
		return errors.New("matrix: client not connected")
	}
	c.handler = handler
	c.startedAt = time.Now()

	slog.Warn("matrix: E2EE is not enabled; encrypted rooms are ignored")

	syncer := c.mx.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		c.enqueue(ctx, evt)
	})

	for _, room := range c.cfg.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("matrix: join %s: %w", room, err)
		}
	}

	go c.syncLoop(ctx)
	return nil
}

func (c *Client) syncLoop(ctx context.Context) {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		started := time.Now()
		err := c.mx.SyncWithContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case <-c.stopCh:
			return
		default:
		}
		// A sync that ran for a while before failing was healthy.
		if time.Since(started) > backoffMax {
			backoff = backoffMin
		}
		slog.Error("matrix: sync stopped; reconnecting", "err", redact.Error(err, c.cfg.AccessToken), "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop halts syncing and waits for the room workers to finish the message
// they are handling.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.mx != nil {
			c.mx.StopSync()
		}
	})
	c.wg.Wait()
}

// Send posts text to a room.
func (c *Client) Send(ctx context.Context, conversationID, text string) error {
	resp, err := c.api.SendText(ctx, id.RoomID(conversationID), text)
	if err != nil {
		return fmt.Errorf("matrix: send to %s: %w", conversationID, err)
	}
	if resp != nil {
		c.sent.SetDefault(resp.EventID.String(), struct{}{})
	}
	return nil
}

func (c *Client) enqueue(ctx context.Context, evt *event.Event) {
	c.mu.Lock()
	q, ok := c.queues[evt.RoomID]
	if !ok {
		q = make(chan *event.Event, roomQueueSize)
		c.queues[evt.RoomID] = q
		c.wg.Add(1)
		go c.worker(ctx, q)
	}
	c.mu.Unlock()

	select {
	case q <- evt:
	default:
		slog.Warn("matrix: room queue full, dropping message", "room", evt.RoomID, "event", evt.ID)
	}
}

func (c *Client) worker(ctx context.Context, q <-chan *event.Event) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case evt := <-q:
			c.process(ctx, evt)
		}
	}
}

func (c *Client) process(ctx context.Context, evt *event.Event) {
	in, ok := c.inbound(ctx, evt)
	if !ok {
		return
	}
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := trace.Logger(ctx).With("room", in.ConversationID, "event", evt.ID)

	if c.cfg.Typing && in.Addressed() {
		c.setTyping(ctx, evt.RoomID, true)
		defer c.setTyping(ctx, evt.RoomID, false)
	}

	out, err := c.handler.Handle(ctx, in)
	if err != nil {
		log.Error("matrix: handle message", "err", err)
		return
	}
	if out.Reply == "" {
		return
	}
	if err := c.Send(ctx, in.ConversationID, out.Reply); err != nil {
		log.Error("matrix: send reply", "err", redact.Error(err, c.cfg.AccessToken))
	}
}

// inbound converts a room event into an engine.Inbound. It reports false
// for events the agent must not handle: its own, non-text, replayed from
// before start, or from rooms outside the configured set.
func (c *Client) inbound(ctx context.Context, evt *event.Event) (engine.Inbound, bool) {
	if evt.Sender == c.userID {
		return engine.Inbound{}, false
	}
	if len(c.cfg.Rooms) > 0 && !slices.Contains(c.cfg.Rooms, evt.RoomID.String()) {
		return engine.Inbound{}, false
	}
	at := time.UnixMilli(evt.Timestamp)
	if evt.Timestamp > 0 && at.Before(c.startedAt) {
		return engine.Inbound{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return engine.Inbound{}, false
	}

	text := stripReplyFallback(content.Body)
	if strings.TrimSpace(text) == "" {
		return engine.Inbound{}, false
	}

	return engine.Inbound{
		ConversationID: evt.RoomID.String(),
		SenderID:       evt.Sender.String(),
		SenderName:     c.senderName(ctx, evt.Sender),
		Text:           text,
		Timestamp:      at,
		IsGroup:        c.isGroup(ctx, evt.RoomID),
		Mentioned:      mentions(content, c.userID, c.cfg.DisplayName),
		ReplyToBot:     c.repliesToAgent(content),
	}, true
}

// mentions reports whether the message addresses the agent through
// m.mentions, its user id, or its display name.
func mentions(content *event.MessageEventContent, self id.UserID, displayName string) bool {
	if content.Mentions != nil && slices.Contains(content.Mentions.UserIDs, self) {
		return true
	}
	body := strings.ToLower(content.Body)
	if strings.Contains(body, strings.ToLower(self.String())) {
		return true
	}
	return displayName != "" && strings.Contains(body, strings.ToLower(displayName))
}

func (c *Client) repliesToAgent(content *event.MessageEventContent) bool {
	rel := content.RelatesTo
	if rel == nil || rel.InReplyTo == nil {
		return false
	}
	if _, ok := c.sent.Get(rel.InReplyTo.EventID.String()); ok {
		return true
	}
	// Replies to messages sent before a restart still quote the sender in
	// the fallback.
	return strings.HasPrefix(content.Body, "> <"+c.userID.String()+">")
}

// stripReplyFallback removes the quoted "> " lines clients prepend to
// replies.
func stripReplyFallback(body string) string {
	if !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	return strings.TrimSpace(strings.Join(lines[i:], "\n"))
}

// isGroup treats rooms with more than two members as groups. When the
// member list cannot be fetched the room counts as a group, so the agent
// only answers when addressed.
func (c *Client) isGroup(ctx context.Context, room id.RoomID) bool {
	if n, ok := c.members.Get(room.String()); ok {
		return n.(int) > 2
	}
	resp, err := c.api.JoinedMembers(ctx, room)
	if err != nil {
		slog.Warn("matrix: joined members lookup failed", "room", room, "err", err)
		return true
	}
	n := len(resp.Joined)
	c.members.SetDefault(room.String(), n)
	return n > 2
}

func (c *Client) senderName(ctx context.Context, user id.UserID) string {
	if name, ok := c.names.Get(user.String()); ok {
		return name.(string)
	}
	name := user.Localpart()
	if profile, err := c.api.GetProfile(ctx, user); err == nil && profile.DisplayName != "" {
		name = profile.DisplayName
	}
	c.names.SetDefault(user.String(), name)
	return name
}

func (c *Client) setTyping(ctx context.Context, room id.RoomID, typing bool) {
	if _, err := c.api.UserTyping(ctx, room, typing, typingTimeout); err != nil {
		slog.Debug("matrix: typing notification failed", "room", room, "err", err)
	}
}

func (c *Client) joinRoom(ctx context.Context, room id.RoomID) error {
	_, err := c.mx.JoinRoomByID(ctx, room)
	if err != nil {
		// Homeservers answer M_FORBIDDEN when the agent is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: already a member or access denied, continuing", "room", room)
			return nil
		}
		return err
	}
	return nil
}
