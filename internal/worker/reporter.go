package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ahmadhassan44/stream-orchestrator/internal/transport"
	"github.com/ahmadhassan44/stream-orchestrator/pkg/protocol"
)

// Reporter tells the orchestrator a worker has drained its queue.
type Reporter struct {
	Name string
	ch   transport.RequestChannel
}

func NewReporter(name string, ch transport.RequestChannel) *Reporter {
	return &Reporter{Name: name, ch: ch}
}

// DialReporter connects to the orchestrator's report channel.
func DialReporter(ctx context.Context, name, orchestratorAddr string) (*Reporter, error) {
	ch, err := transport.DialRequester(ctx, orchestratorAddr, time.Second)
	if err != nil {
		return nil, err
	}
	return NewReporter(name, ch), nil
}

// ReportFinished sends FINISHED with the worker's name and waits for the
// orchestrator's acknowledgment.
func (r *Reporter) ReportFinished(ctx context.Context, timeout time.Duration) error {
	log.Printf("[%s] Sending FINISHED to orchestrator", r.Name)
	reply, err := r.ch.SendAndWait(ctx, protocol.NewMessage(protocol.CmdFinished, r.Name), timeout)
	if err != nil {
		return fmt.Errorf("report finished: %w", err)
	}
	log.Printf("[%s] Orchestrator acknowledged: %s", r.Name, reply)
	return nil
}

func (r *Reporter) Close() error {
	return r.ch.Close()
}
