package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emersion/go-message/mail"
	"github.com/knadh/go-pop3"

	"notirun/internal/domain"
	"notirun/internal/reply"
)

const pop3DefaultPort = 995

// POP3 is a Mailbox that opens a short session per operation. A POP3 server
// snapshots the maildrop at login and commits deletions only on QUIT, so a
// long-lived session would never see new replies.
type POP3 struct {
	client   *pop3.Client
	username string
	password string
	logger   *slog.Logger
}

// POP3Config configures the POP3 mailbox. The connection uses implicit TLS
// unless Insecure is set.
type POP3Config struct {
	Server   string
	Port     int
	Username string
	Password string
	Insecure bool // plain TCP, for local servers only
	Logger   *slog.Logger
}

// DialPOP3 verifies the server and credentials with one session.
func DialPOP3(cfg POP3Config) (*POP3, error) {
	if cfg.Port == 0 {
		cfg.Port = pop3DefaultPort
	}
	p := &POP3{
		client: pop3.New(pop3.Opt{
			Host:       cfg.Server,
			Port:       cfg.Port,
			TLSEnabled: !cfg.Insecure,
		}),
		username: cfg.Username,
		password: cfg.Password,
		logger:   cfg.Logger,
	}

	conn, err := p.session()
	if err != nil {
		return nil, err
	}
	if err := conn.Quit(); err != nil {
		p.logger.Debug("pop3 quit failed", "err", err)
	}
	p.logger.Info("pop3 mailbox ready", "server", cfg.Server, "user", cfg.Username)
	return p, nil
}

func (p *POP3) session() (*pop3.Conn, error) {
	conn, err := p.client.NewConn()
	if err != nil {
		return nil, domain.NewBackendError(emailName, domain.ErrInitialization, "connect to pop3 server", err)
	}
	if err := conn.Auth(p.username, p.password); err != nil {
		conn.Quit()
		return nil, domain.NewBackendError(emailName, domain.ErrAuthorization, "pop3 login as "+p.username, err)
	}
	return conn, nil
}

// Search reads only the headers (TOP n 0) of each message.
func (p *POP3) Search(ctx context.Context, address string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := p.session()
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	msgs, err := conn.Uidl(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 uidl: %w", err)
	}

	var ids []string
	for _, m := range msgs {
		entity, err := conn.Top(m.ID, 0)
		if err != nil {
			p.logger.Warn("pop3 top failed", "id", m.ID, "err", err)
			continue
		}
		h := mail.Header{Header: entity.Header}
		addrs, err := h.AddressList("From")
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if reply.SameAddress(a.Address, address) {
				ids = append(ids, m.UID)
				break
			}
		}
	}
	return ids, nil
}

func (p *POP3) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := p.session()
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	index, err := uidIndex(conn)
	if err != nil {
		return nil, err
	}
	n, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("pop3 message %s no longer exists", id)
	}
	buf, err := conn.RetrRaw(n)
	if err != nil {
		return nil, fmt.Errorf("pop3 retr %s: %w", id, err)
	}
	return buf.Bytes(), nil
}

// Delete marks the messages and commits with QUIT.
func (p *POP3) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := p.session()
	if err != nil {
		return err
	}

	index, err := uidIndex(conn)
	if err != nil {
		conn.Quit()
		return err
	}
	nums := make([]int, 0, len(ids))
	for _, id := range ids {
		if n, ok := index[id]; ok {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return conn.Quit()
	}
	if err := conn.Dele(nums...); err != nil {
		conn.Quit()
		return fmt.Errorf("pop3 dele: %w", err)
	}
	if err := conn.Quit(); err != nil {
		return fmt.Errorf("pop3 commit deletions: %w", err)
	}
	return nil
}

// uidIndex maps UIDL values to message numbers for this session.
func uidIndex(conn *pop3.Conn) (map[string]int, error) {
	msgs, err := conn.Uidl(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 uidl: %w", err)
	}
	index := make(map[string]int, len(msgs))
	for _, m := range msgs {
		index[m.UID] = m.ID
	}
	return index, nil
}

func (p *POP3) Close() error { return nil }
