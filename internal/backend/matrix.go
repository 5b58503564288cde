package backend

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"notirun/internal/bus"
	"notirun/internal/domain"
	"notirun/internal/payload"
)

const matrixName = "matrix"

// Matrix talks to the operator in one room. Messages are only accepted from
// the configured address.
type Matrix struct {
	client  *mautrix.Client
	room    id.RoomID
	address id.UserID
	self    id.UserID
	inbox   *bus.Inbox
	logger  *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// MatrixConfig configures the Matrix backend. Username and Address are full
// user ids; Room is a room id (!id:server) or alias (#alias:server).
type MatrixConfig struct {
	Address    string
	Username   string
	Password   string
	Room       string
	Homeserver string // overrides .well-known discovery
	Logger     *slog.Logger
}

// NewMatrix logs in and starts syncing. Events from before the first sync
// are ignored.
func NewMatrix(ctx context.Context, cfg MatrixConfig) (*Matrix, error) {
	user := id.UserID(cfg.Username)
	_, server, err := user.Parse()
	if err != nil {
		return nil, domain.NewBackendError(matrixName, domain.ErrInitialization, "invalid username "+cfg.Username, err)
	}
	address := id.UserID(cfg.Address)
	if _, _, err := address.Parse(); err != nil {
		return nil, domain.NewBackendError(matrixName, domain.ErrInitialization, "invalid address "+cfg.Address, err)
	}

	homeserver := cfg.Homeserver
	if homeserver == "" {
		homeserver = "https://" + server
		if wk, err := mautrix.DiscoverClientAPI(ctx, server); err != nil {
			cfg.Logger.Warn("matrix well-known discovery failed, using server name", "server", server, "err", err)
		} else if wk != nil && wk.Homeserver.BaseURL != "" {
			homeserver = wk.Homeserver.BaseURL
		}
	}

	client, err := mautrix.NewClient(homeserver, "", "")
	if err != nil {
		return nil, domain.NewBackendError(matrixName, domain.ErrInitialization, "create client for "+homeserver, err)
	}

	_, err = client.Login(ctx, &mautrix.ReqLogin{
		Type:             mautrix.AuthTypePassword,
		Identifier:       mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: cfg.Username},
		Password:         cfg.Password,
		StoreCredentials: true,
	})
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			return nil, domain.NewBackendError(matrixName, domain.ErrAuthorization, "login as "+cfg.Username, err)
		}
		return nil, domain.NewBackendError(matrixName, domain.ErrServer, "login as "+cfg.Username, err)
	}

	room := id.RoomID(cfg.Room)
	if strings.HasPrefix(cfg.Room, "#") {
		resp, err := client.ResolveAlias(ctx, id.RoomAlias(cfg.Room))
		if err != nil {
			return nil, domain.NewBackendError(matrixName, domain.ErrServer, "resolve room alias "+cfg.Room, err)
		}
		room = resp.RoomID
	}
	if err := joinRoom(ctx, client, room, cfg.Logger); err != nil {
		return nil, err
	}

	m := &Matrix{
		client:  client,
		room:    room,
		address: address,
		self:    client.UserID,
		inbox:   bus.New(cfg.Logger),
		logger:  cfg.Logger,
		done:    make(chan struct{}),
	}

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, domain.NewBackendError(matrixName, domain.ErrInitialization, "unexpected syncer type", nil)
	}
	syncer.OnSync(client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, m.handleMessage)

	syncCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.sync(syncCtx)

	m.logger.Info("matrix connected", "user", m.self, "room", m.room, "homeserver", homeserver)
	return m, nil
}

// roomJoiner is the part of *mautrix.Client joinRoom needs.
type roomJoiner interface {
	JoinedRooms(ctx context.Context) (*mautrix.RespJoinedRooms, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
}

// joinRoom makes sure the logged-in user is a member of room, accepting a
// pending invite if needed. Without membership the syncer never sees the
// operator's replies.
func joinRoom(ctx context.Context, c roomJoiner, room id.RoomID, logger *slog.Logger) error {
	joined, err := c.JoinedRooms(ctx)
	if err != nil {
		return domain.NewBackendError(matrixName, domain.ErrServer, "list joined rooms", err)
	}
	for _, r := range joined.JoinedRooms {
		if r == room {
			return nil
		}
	}
	if _, err := c.JoinRoomByID(ctx, room); err != nil {
		if errors.Is(err, mautrix.MForbidden) || errors.Is(err, mautrix.MNotFound) {
			return domain.NewBackendError(matrixName, domain.ErrInitialization, "join room "+room.String(), err)
		}
		return domain.NewBackendError(matrixName, domain.ErrServer, "join room "+room.String(), err)
	}
	logger.Info("joined matrix room", "room", room)
	return nil
}

func (m *Matrix) sync(ctx context.Context) {
	defer close(m.done)
	err := m.client.SyncWithContext(ctx)
	if err != nil && ctx.Err() == nil {
		m.logger.Error("matrix sync stopped", "err", err)
	}
	m.inbox.Close()
}

func (m *Matrix) handleMessage(_ context.Context, evt *event.Event) {
	if evt.RoomID != m.room || evt.Sender == m.self {
		return
	}
	if evt.Sender != m.address {
		m.logger.Warn("ignoring message from unauthorized sender", "sender", evt.Sender)
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	m.inbox.Publish(bus.Message{
		Sender:   evt.Sender.String(),
		Body:     content.Body,
		Received: time.UnixMilli(evt.Timestamp),
	})
}

func (m *Matrix) Name() string { return matrixName }

func (m *Matrix) Send(ctx context.Context, msg domain.Sendable) error {
	if text, ok := payload.Text(msg); ok {
		content := format.RenderMarkdown(text, true, false)
		if _, err := m.client.SendMessageEvent(ctx, m.room, event.EventMessage, &content); err != nil {
			return domain.NewBackendError(matrixName, domain.ErrSend, "send text", err)
		}
		return nil
	}

	mime, filename, data, ok := domain.Attachment(msg)
	if !ok {
		return domain.NewBackendError(matrixName, domain.ErrSend, "unsupported message", nil)
	}
	upload, err := m.client.UploadBytes(ctx, data, mime)
	if err != nil {
		return domain.NewBackendError(matrixName, domain.ErrSend, "upload "+filename, err)
	}
	msgType := event.MsgFile
	if strings.HasPrefix(mime, "image/") {
		msgType = event.MsgImage
	}
	content := &event.MessageEventContent{
		MsgType:  msgType,
		Body:     filename,
		FileName: filename,
		URL:      upload.ContentURI.CUString(),
		Info:     &event.FileInfo{MimeType: mime, Size: len(data)},
	}
	if _, err := m.client.SendMessageEvent(ctx, m.room, event.EventMessage, content); err != nil {
		return domain.NewBackendError(matrixName, domain.ErrSend, "send "+filename, err)
	}
	return nil
}

func (m *Matrix) Receive(ctx context.Context) (domain.ControlCommand, error) {
	return receiveChat(ctx, matrixName, m.inbox, m.logger)
}

func (m *Matrix) Close() error {
	m.closeOnce.Do(func() {
		m.client.StopSync()
		m.cancel()
		<-m.done
	})
	return nil
}
