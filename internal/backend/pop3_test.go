package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"notirun/internal/domain"
)

type pop3TestMessage struct {
	uid string
	raw string
}

// pop3TestServer is a minimal RFC 1939 maildrop. Like a real server it
// snapshots the maildrop when a session starts and applies DELE only on QUIT.
type pop3TestServer struct {
	t    *testing.T
	addr string

	mu   sync.Mutex
	msgs []pop3TestMessage
	next int
}

func newPOP3TestServer(t *testing.T) *pop3TestServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &pop3TestServer{t: t, addr: ln.Addr().String()}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *pop3TestServer) seed(raw []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	uid := "uid-" + strconv.Itoa(s.next)
	s.msgs = append(s.msgs, pop3TestMessage{uid: uid, raw: string(raw)})
	return uid
}

func (s *pop3TestServer) uids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.msgs {
		out = append(out, m.uid)
	}
	return out
}

func (s *pop3TestServer) config() POP3Config {
	host, port, _ := net.SplitHostPort(s.addr)
	p, _ := strconv.Atoi(port)
	return POP3Config{
		Server:   host,
		Port:     p,
		Username: imapTestUser,
		Password: imapTestPassword,
		Insecure: true,
		Logger:   testLogger(),
	}
}

func (s *pop3TestServer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) { fmt.Fprintf(conn, format, args...) }
	multi := func(body string) {
		var sb strings.Builder
		sb.WriteString("+OK\r\n")
		for _, line := range strings.SplitAfter(body, "\r\n") {
			if strings.HasPrefix(line, ".") {
				sb.WriteString(".")
			}
			sb.WriteString(line)
		}
		sb.WriteString(".\r\n")
		io.WriteString(conn, sb.String())
	}

	s.mu.Lock()
	snapshot := append([]pop3TestMessage(nil), s.msgs...)
	s.mu.Unlock()
	deleted := make(map[string]bool)
	lookup := func(arg string) (pop3TestMessage, bool) {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(snapshot) || deleted[snapshot[n-1].uid] {
			return pop3TestMessage{}, false
		}
		return snapshot[n-1], true
	}

	var user string
	authed := false
	reply("+OK ready\r\n")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		cmd := strings.ToUpper(f[0])
		if !authed && cmd != "USER" && cmd != "PASS" && cmd != "QUIT" {
			reply("-ERR not authenticated\r\n")
			continue
		}
		switch cmd {
		case "USER":
			user = f[1]
			reply("+OK\r\n")
		case "PASS":
			if user != imapTestUser || len(f) < 2 || f[1] != imapTestPassword {
				reply("-ERR invalid credentials\r\n")
				continue
			}
			authed = true
			reply("+OK\r\n")
		case "NOOP":
			reply("+OK\r\n")
		case "UIDL":
			var sb strings.Builder
			for i, m := range snapshot {
				if !deleted[m.uid] {
					fmt.Fprintf(&sb, "%d %s\r\n", i+1, m.uid)
				}
			}
			multi(sb.String())
		case "TOP", "RETR":
			m, ok := lookup(f[1])
			if !ok {
				reply("-ERR no such message\r\n")
				continue
			}
			body := m.raw
			if cmd == "TOP" {
				body = body[:strings.Index(body, "\r\n\r\n")+4]
			}
			multi(body)
		case "DELE":
			m, ok := lookup(f[1])
			if !ok {
				reply("-ERR no such message\r\n")
				continue
			}
			deleted[m.uid] = true
			reply("+OK\r\n")
		case "QUIT":
			s.mu.Lock()
			kept := s.msgs[:0]
			for _, m := range s.msgs {
				if !deleted[m.uid] {
					kept = append(kept, m)
				}
			}
			s.msgs = kept
			s.mu.Unlock()
			reply("+OK bye\r\n")
			return
		default:
			reply("-ERR unknown command\r\n")
		}
	}
}

func dialTestPOP3(t *testing.T, s *pop3TestServer) *POP3 {
	t.Helper()
	p, err := DialPOP3(s.config())
	if err != nil {
		t.Fatalf("DialPOP3: %v", err)
	}
	return p
}

// --- Dial ---

func TestPOP3_WrongPasswordIsAuthorizationError(t *testing.T) {
	s := newPOP3TestServer(t)
	cfg := s.config()
	cfg.Password = "nope"

	if _, err := DialPOP3(cfg); !domain.IsKind(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

// --- Search / Fetch / Delete ---

func TestPOP3_SearchMatchesFromHeader(t *testing.T) {
	s := newPOP3TestServer(t)
	s.seed(rawMail("someone@example.com", "hello"))
	b := s.seed(rawMail(imapTestOperator, "rerun"))
	c := s.seed(rawMail("Operator <"+strings.ToUpper(imapTestOperator)+">", "cat"))
	p := dialTestPOP3(t, s)

	ids, err := p.Search(context.Background(), imapTestOperator)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 2 || ids[0] != b || ids[1] != c {
		t.Fatalf("expected [%s %s], got %v", b, c, ids)
	}
}

func TestPOP3_DeleteAndFetchMapUIDsToMessageNumbers(t *testing.T) {
	s := newPOP3TestServer(t)
	a := s.seed(rawMail("someone@example.com", "hello"))
	b := s.seed(rawMail(imapTestOperator, "rerun"))
	c := s.seed(rawMail(imapTestOperator, "cat"))
	p := dialTestPOP3(t, s)
	ctx := context.Background()

	if err := p.Delete(ctx, b); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := s.uids(); len(got) != 2 || got[0] != a || got[1] != c {
		t.Fatalf("expected [%s %s] to remain, got %v", a, c, got)
	}

	// c is now message 2 in a fresh session.
	raw, err := p.Fetch(ctx, c)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(string(raw), "cat") {
		t.Fatalf("fetched the wrong message:\n%s", raw)
	}
	if _, err := p.Fetch(ctx, b); err == nil {
		t.Fatal("expected error fetching a deleted message")
	}
}

func TestPOP3_DeleteUnknownUIDIsNoop(t *testing.T) {
	s := newPOP3TestServer(t)
	a := s.seed(rawMail(imapTestOperator, "done"))
	p := dialTestPOP3(t, s)

	if err := p.Delete(context.Background(), "uid-404"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := s.uids(); len(got) != 1 || got[0] != a {
		t.Fatalf("nothing should be removed, got %v", got)
	}
}

func TestPOP3_EachOperationSeesNewMail(t *testing.T) {
	s := newPOP3TestServer(t)
	p := dialTestPOP3(t, s)
	ctx := context.Background()

	if ids, err := p.Search(ctx, imapTestOperator); err != nil || len(ids) != 0 {
		t.Fatalf("expected empty maildrop, got %v (%v)", ids, err)
	}
	uid := s.seed(rawMail(imapTestOperator, "done"))
	ids, err := p.Search(ctx, imapTestOperator)
	if err != nil || len(ids) != 1 || ids[0] != uid {
		t.Fatalf("expected [%s], got %v (%v)", uid, ids, err)
	}
}

// --- Email backend over POP3 ---

func TestPOP3_EmailLifecycle(t *testing.T) {
	s := newPOP3TestServer(t)
	for _, body := range []string{"rerun", "cat", "done"} {
		s.seed(rawMail(imapTestOperator, body))
	}
	other := s.seed(rawMail("someone@example.com", "unrelated"))

	ctx := context.Background()
	e, err := NewEmail(ctx, EmailConfig{
		Address: imapTestOperator,
		From:    imapTestUser,
		Sender:  &fakeSender{},
		Mailbox: dialTestPOP3(t, s),
		Logger:  testLogger(),
		Sleep:   func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewEmail: %v", err)
	}
	if got := s.uids(); len(got) != 1 || got[0] != other {
		t.Fatalf("startup should delete the 3 stale replies, got %v", got)
	}

	s.seed(rawMail(imapTestOperator, "Rerun"))
	cmd, err := e.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if cmd != domain.Rerun {
		t.Fatalf("expected rerun, got %v", cmd)
	}
	if got := s.uids(); len(got) != 1 || got[0] != other {
		t.Fatalf("consumed reply should be deleted, got %v", got)
	}
}
