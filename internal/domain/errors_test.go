package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestBackendError_Message(t *testing.T) {
	err := NewBackendError("email", ErrServer, "search INBOX", errors.New("connection reset"))
	want := "email: server error: search INBOX: connection reset"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}

	bare := NewBackendError("slack", ErrInitialization, "", nil)
	if bare.Error() != "slack: initialization error" {
		t.Fatalf("unexpected message: %q", bare.Error())
	}
}

func TestBackendError_UnwrapAndIsKind(t *testing.T) {
	cause := errors.New("401")
	err := fmt.Errorf("send: %w", NewBackendError("matrix", ErrAuthorization, "login", cause))

	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if !IsKind(err, ErrAuthorization) {
		t.Fatal("expected authorization kind")
	}
	if IsKind(err, ErrSend) {
		t.Fatal("should not match another kind")
	}
	if IsKind(errors.New("plain"), ErrSend) {
		t.Fatal("plain errors have no kind")
	}
}

func TestBackendError_Retryable(t *testing.T) {
	cases := map[ErrorKind]bool{
		ErrInitialization: false,
		ErrAuthorization:  false,
		ErrServer:         true,
		ErrSend:           true,
		ErrReceive:        true,
		ErrUnknown:        false,
	}
	for kind, want := range cases {
		if got := NewBackendError("x", kind, "", nil).Retryable(); got != want {
			t.Errorf("%s: expected retryable=%v, got %v", kind, want, got)
		}
	}
}

func TestControlCommand_String(t *testing.T) {
	if Rerun.String() != "rerun" || Done.String() != "done" || Cat.String() != "cat" {
		t.Fatal("unexpected names for fixed commands")
	}
	if s := Unknown("lol").String(); s != "unknown(lol)" {
		t.Fatalf("unexpected: %q", s)
	}
}

func TestAttachment(t *testing.T) {
	mime, name, data, ok := Attachment(Image{MIME: "image/jpeg", Filename: "cat.jpeg", Data: []byte{1}})
	if !ok || mime != "image/jpeg" || name != "cat.jpeg" || len(data) != 1 {
		t.Fatalf("unexpected image attachment: %q %q %v %v", mime, name, data, ok)
	}
	if _, name, _, ok := Attachment(&File{Filename: "a.csv"}); !ok || name != "a.csv" {
		t.Fatal("expected pointer File to be an attachment")
	}
	if _, _, _, ok := Attachment(Text{Body: "hi"}); ok {
		t.Fatal("text is not an attachment")
	}
	if _, _, _, ok := Attachment(Result{}); ok {
		t.Fatal("result is not an attachment")
	}
}
