package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"notirun/internal/domain"
)

const imapDefaultPort = 993

// IMAP is a Mailbox on INBOX. The session is re-established whenever the
// server has dropped it, which happens routinely while a long command runs.
type IMAP struct {
	mu     sync.Mutex
	cfg    IMAPConfig
	addr   string
	client *imapclient.Client
	logger *slog.Logger
}

// IMAPConfig configures the IMAP mailbox. The connection uses implicit TLS
// unless Insecure is set.
type IMAPConfig struct {
	Server    string
	Port      int
	Username  string
	Password  string
	TLSConfig *tls.Config
	Insecure  bool // plain TCP, for local servers only
	Logger    *slog.Logger
}

// DialIMAP connects, logs in and selects INBOX.
func DialIMAP(cfg IMAPConfig) (*IMAP, error) {
	if cfg.Port == 0 {
		cfg.Port = imapDefaultPort
	}
	m := &IMAP{
		cfg:    cfg,
		addr:   net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port)),
		logger: cfg.Logger,
	}
	c, err := m.dial()
	if err != nil {
		return nil, err
	}
	m.client = c

	m.logger.Info("imap mailbox ready", "server", m.addr, "user", cfg.Username)
	return m, nil
}

func (m *IMAP) dial() (*imapclient.Client, error) {
	opts := &imapclient.Options{TLSConfig: m.cfg.TLSConfig}
	var (
		c   *imapclient.Client
		err error
	)
	if m.cfg.Insecure {
		c, err = imapclient.DialInsecure(m.addr, opts)
	} else {
		c, err = imapclient.DialTLS(m.addr, opts)
	}
	if err != nil {
		return nil, domain.NewBackendError(emailName, domain.ErrInitialization, "connect to imap server "+m.addr, err)
	}
	if err := c.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
		c.Close()
		return nil, domain.NewBackendError(emailName, domain.ErrAuthorization, "imap login as "+m.cfg.Username, err)
	}
	if _, err := c.Select("INBOX", nil).Wait(); err != nil {
		c.Close()
		return nil, domain.NewBackendError(emailName, domain.ErrServer, "select INBOX", err)
	}
	return c, nil
}

// do runs fn on a live session. A transport failure drops the session and
// fn is tried once more on a fresh one; a refusal from the server (NO/BAD)
// is returned as is. Callers hold no lock.
func (m *IMAP) do(fn func(c *imapclient.Client) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; ; attempt++ {
		c, err := m.session()
		if err != nil {
			return err
		}
		err = fn(c)
		if err == nil || !isTransportError(err) || attempt > 0 {
			return err
		}
		m.logger.Warn("imap session lost, reconnecting", "server", m.addr, "err", err)
		m.drop()
	}
}

// session returns the current client, redialing if there is none or the
// server has closed it. m.mu must be held.
func (m *IMAP) session() (*imapclient.Client, error) {
	if m.client != nil && m.client.State() != imap.ConnStateLogout {
		return m.client, nil
	}
	m.drop()
	c, err := m.dial()
	if err != nil {
		return nil, err
	}
	m.logger.Info("imap session re-established", "server", m.addr)
	m.client = c
	return c, nil
}

func (m *IMAP) drop() {
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
}

func isTransportError(err error) bool {
	var refused *imap.Error
	return !errors.As(err, &refused)
}

func (m *IMAP) Search(ctx context.Context, address string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: address}},
	}
	var data *imap.SearchData
	err := m.do(func(c *imapclient.Client) error {
		var err error
		data, err = c.UIDSearch(criteria, nil).Wait()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	uids := data.AllUIDs()
	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	return ids, nil
}

func (m *IMAP) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	section := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}
	var msgs []*imapclient.FetchMessageBuffer
	err = m.do(func(c *imapclient.Client) error {
		var err error
		msgs, err = c.Fetch(imap.UIDSetNum(uid), opts).Collect()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("imap fetch %s: %w", id, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("imap fetch %s: message not found", id)
	}
	body := msgs[0].FindBodySection(section)
	if body == nil {
		return nil, fmt.Errorf("imap fetch %s: empty body", id)
	}
	return body, nil
}

// Delete flags the messages \Deleted and expunges them. With UIDPLUS only
// these UIDs are expunged; other messages the user flagged stay put.
func (m *IMAP) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	uids := make([]imap.UID, 0, len(ids))
	for _, id := range ids {
		uid, err := parseUID(id)
		if err != nil {
			return err
		}
		uids = append(uids, uid)
	}
	set := imap.UIDSetNum(uids...)

	store := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}
	return m.do(func(c *imapclient.Client) error {
		if err := c.Store(set, store, nil).Close(); err != nil {
			return fmt.Errorf("imap flag deleted: %w", err)
		}
		expunge := c.Expunge
		if c.Caps().Has(imap.CapUIDPlus) {
			expunge = func() *imapclient.ExpungeCommand { return c.UIDExpunge(set) }
		}
		if err := expunge().Close(); err != nil {
			return fmt.Errorf("imap expunge: %w", err)
		}
		return nil
	})
}

func (m *IMAP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	if err := m.client.Logout().Wait(); err != nil {
		m.logger.Debug("imap logout failed", "err", err)
	}
	err := m.client.Close()
	m.client = nil
	return err
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid imap uid %q", id)
	}
	return imap.UID(n), nil
}
