package worker

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"sync"
)

// Intake accepts events from the worker's flume intake agent, which posts
// each kafka event as the body of one request.
type Intake struct {
	ctx     context.Context
	handler *Handler

	mu       sync.Mutex // one event at a time
	finished bool
	done     chan struct{}
}

// NewIntake serves h. ctx bounds forwarding and the FINISHED report, which
// can outlive the agent's request.
func NewIntake(ctx context.Context, h *Handler) *Intake {
	return &Intake{ctx: ctx, handler: h, done: make(chan struct{})}
}

// Done is closed once FINISHED has been acknowledged.
func (in *Intake) Done() <-chan struct{} {
	return in.done
}

func (in *Intake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read event", http.StatusBadRequest)
		return
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.finished {
		// events after the marker belong to no run
		w.WriteHeader(http.StatusOK)
		return
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		finished, err := in.handler.Handle(in.ctx, line)
		if err != nil {
			// the agent rolls back and redelivers the marker
			log.Printf("[%s] Reporting FINISHED failed: %v", in.handler.WorkerID, err)
			http.Error(w, "Report failed", http.StatusServiceUnavailable)
			return
		}
		if finished {
			in.finished = true
			close(in.done)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		http.Error(w, "Malformed event", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}
