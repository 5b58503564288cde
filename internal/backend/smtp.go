package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"notirun/internal/domain"
)

const smtpImplicitTLSPort = 465

// SMTP delivers mail over a fresh session per message. Servers drop idle
// sessions, and results are minutes apart.
type SMTP struct {
	addr        string
	implicitTLS bool
	tlsConfig   *tls.Config
	username    string
	password    string
	logger      *slog.Logger
}

// SMTPConfig configures the SMTP sender. Port 465 uses implicit TLS, any
// other port STARTTLS.
type SMTPConfig struct {
	Server    string
	Port      int
	Username  string
	Password  string
	TLSConfig *tls.Config // optional; ServerName defaults to Server
	Logger    *slog.Logger
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = smtpImplicitTLSPort
	}
	tlsConfig := &tls.Config{}
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = cfg.Server
	}
	return &SMTP{
		addr:        net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port)),
		implicitTLS: cfg.Port == smtpImplicitTLSPort,
		tlsConfig:   tlsConfig,
		username:    cfg.Username,
		password:    cfg.Password,
		logger:      cfg.Logger,
	}
}

// Send dials, authenticates with SASL PLAIN and submits raw.
func (s *SMTP) Send(ctx context.Context, from string, to []string, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		c   *smtp.Client
		err error
	)
	if s.implicitTLS {
		c, err = smtp.DialTLS(s.addr, s.tlsConfig)
	} else {
		c, err = smtp.DialStartTLS(s.addr, s.tlsConfig)
	}
	if err != nil {
		return domain.NewBackendError(emailName, domain.ErrServer, "connect to smtp server "+s.addr, err)
	}
	defer c.Close()

	if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
		return domain.NewBackendError(emailName, domain.ErrAuthorization, "smtp login as "+s.username, err)
	}
	if err := c.SendMail(from, to, bytes.NewReader(raw)); err != nil {
		return domain.NewBackendError(emailName, domain.ErrSend, "deliver message", err)
	}
	if err := c.Quit(); err != nil {
		s.logger.Debug("smtp quit failed", "err", err)
	}
	return nil
}
