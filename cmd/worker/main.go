package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmadhassan44/stream-orchestrator/internal/worker"
)

func main() {
	// 1. Identity Setup
	workerID := os.Getenv("WORKER_NAME")
	if workerID == "" {
		workerID = "RM-Unknown"
	}
	orchestratorAddr := os.Getenv("ORCHESTRATOR_ADDRESS")
	endpoint := os.Getenv("RECOMMENDATION_ENDPOINT")
	if orchestratorAddr == "" || endpoint == "" {
		log.Fatalf("[%s] ORCHESTRATOR_ADDRESS and RECOMMENDATION_ENDPOINT are required", workerID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Report channel to the orchestrator
	dialCtx, cancel := context.WithTimeout(ctx, time.Minute)
	reporter, err := worker.DialReporter(dialCtx, workerID, orchestratorAddr)
	cancel()
	if err != nil {
		log.Fatalf("[%s] Cannot reach orchestrator at %s: %v", workerID, orchestratorAddr, err)
	}
	defer reporter.Close()

	h := &worker.Handler{
		WorkerID: workerID,
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 30 * time.Second},
		Finisher: reporter,
		Output:   os.Getenv("RECOMMENDATION_OUTPUT"),
	}

	// 3. Event source: a recorded file named by EVENTS, the intake agent otherwise
	if path := os.Getenv("EVENTS"); path != "" {
		if err := replay(ctx, h, path); err != nil {
			log.Printf("[%s] Stopped: %v", workerID, err)
			reporter.Close()
			os.Exit(1)
		}
		log.Printf("[%s] Done after %d requests", workerID, h.Processed)
		return
	}

	port := os.Getenv("WORKER_INTAKE_PORT")
	if port == "" {
		port = "8080"
	}
	if err := serve(ctx, h, ":"+port); err != nil {
		log.Printf("[%s] Stopped: %v", workerID, err)
		reporter.Close()
		os.Exit(1)
	}
	log.Printf("[%s] Done after %d requests", workerID, h.Processed)
}

func replay(ctx context.Context, h *worker.Handler, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	log.Printf("[%s] Replaying %s to %s", h.WorkerID, path, h.Endpoint)
	return h.Run(ctx, f)
}

// serve accepts events from the intake agent until FINISHED is acknowledged.
func serve(ctx context.Context, h *worker.Handler, addr string) error {
	intake := worker.NewIntake(ctx, h)

	mux := http.NewServeMux()
	mux.Handle(worker.IntakePath, intake)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[%s] Forwarding recommendation requests to %s, intake listening on %s", h.WorkerID, h.Endpoint, addr)
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-intake.Done():
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
