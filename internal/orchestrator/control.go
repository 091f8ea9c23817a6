package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ahmadhassan44/stream-orchestrator/internal/transport"
	"github.com/ahmadhassan44/stream-orchestrator/pkg/protocol"
)

// Control translates run phases into requests to the computing environment
// and interprets the replies. It holds no phase state.
type Control struct {
	ch transport.RequestChannel
}

func NewControl(ch transport.RequestChannel) *Control {
	return &Control{ch: ch}
}

// Handshake sends HELLO and expects READY within startup. Anything else
// releases the channel.
func (c *Control) Handshake(ctx context.Context, startup time.Duration) error {
	log.Printf("[Control] Waiting at most %s for computing environment to get ready", startup)
	reply, err := c.ch.SendAndWait(ctx, protocol.NewMessage(protocol.CmdHello), startup)
	if err != nil {
		c.ch.Close()
		return fmt.Errorf("%w: computing environment failed or did not start in %s: %w",
			protocol.ErrHandshakeFailed, startup, err)
	}
	if reply.Command() != protocol.CmdReady {
		c.ch.Close()
		return fmt.Errorf("%w: computing environment sent %s, which is not %s",
			protocol.ErrHandshakeFailed, reply, protocol.CmdReady)
	}
	log.Printf("[Control] Computing environment is ready")
	return nil
}

// Train asks the computing environment to train on topic and returns the
// recommendation endpoint it answers with. Training is open-ended: there is
// no timeout.
func (c *Control) Train(ctx context.Context, zookeeperHostport, topic string) (string, error) {
	log.Printf("[Control] Sending %s and waiting for training to complete", protocol.CmdTrain)
	start := time.Now()
	reply, err := c.ch.SendAndWait(ctx, protocol.NewMessage(protocol.CmdTrain, zookeeperHostport, topic), 0)
	if err != nil {
		return "", fmt.Errorf("train: %w", err)
	}

	switch reply.Command() {
	case protocol.CmdOK:
		endpoint, ok := reply.Arg(0)
		if !ok {
			return "", fmt.Errorf("%w: %s without recommendation endpoint", protocol.ErrProtocolViolation, reply)
		}
		log.Printf("[Control] Training completed successfully, took %.1f minutes", time.Since(start).Minutes())
		return endpoint, nil
	case protocol.CmdKO:
		return "", protocol.ErrTrainingFailed
	default:
		return "", fmt.Errorf("%w: %s", protocol.ErrProtocolViolation, reply)
	}
}

// RequestTest starts recommendation generation. Any reply counts as an
// acknowledgment; completion is signalled by the workers.
func (c *Control) RequestTest(ctx context.Context) error {
	reply, err := c.ch.SendAndWait(ctx, protocol.NewMessage(protocol.CmdTest), 0)
	if err != nil {
		return fmt.Errorf("test: %w", err)
	}
	log.Printf("[Control] Test acknowledged with %s, recommendations are being generated", reply)
	return nil
}

// Shutdown sends STOP without awaiting a reply and closes the channel.
func (c *Control) Shutdown(ctx context.Context) error {
	log.Printf("[Control] Sending %s", protocol.CmdStop)
	err := c.ch.Send(ctx, protocol.NewMessage(protocol.CmdStop))
	if cerr := c.ch.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
