package backend

import (
	"context"
	"errors"
	"log/slog"

	"notirun/internal/bus"
	"notirun/internal/domain"
	"notirun/internal/reply"
)

// receiveChat waits on a push backend's inbox and classifies the newest
// message.
func receiveChat(ctx context.Context, name string, inbox *bus.Inbox, logger *slog.Logger) (domain.ControlCommand, error) {
	msg, err := inbox.Wait(ctx)
	if err != nil {
		if errors.Is(err, bus.ErrClosed) {
			return domain.ControlCommand{}, domain.NewBackendError(name, domain.ErrReceive, "connection closed", err)
		}
		return domain.ControlCommand{}, err
	}
	cmd := reply.ClassifyChat(msg.Body)
	logger.Info("reply received", "sender", msg.Sender, "command", cmd.String())
	return cmd, nil
}
