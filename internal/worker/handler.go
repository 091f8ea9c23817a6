package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Finisher is notified once the end-of-stream marker has been seen.
type Finisher interface {
	ReportFinished(ctx context.Context, timeout time.Duration) error
}

// Handler forwards recommendation requests to the computing environment's
// recommendation endpoint and reports completion to the orchestrator.
type Handler struct {
	WorkerID string
	Endpoint string
	Client   *http.Client
	Finisher Finisher

	// Output receives recommendations as flume JSON events. Empty drops them.
	Output string

	// Processed counts forwarded requests.
	Processed int64
}

// endOfStream reports whether line carries the END/EOF marker closing the test data.
func endOfStream(line string) bool {
	line = strings.TrimSpace(line)
	eventType, _, _ := strings.Cut(line, "\t")
	return eventType == "END" || eventType == "EOF" || strings.Contains(line, "<END>")
}

// Handle processes one event, "<type>\t<json body>...". It returns true once
// the end-of-stream marker has been reported. Requests the endpoint rejects
// are logged and dropped; only a failed report is returned.
func (h *Handler) Handle(ctx context.Context, line string) (bool, error) {
	if endOfStream(line) {
		log.Printf("[%s] Received <END> event after %d requests", h.WorkerID, h.Processed)
		if err := h.Finisher.ReportFinished(ctx, 0); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := h.forward(ctx, line); err != nil {
		// one bad request must not stall the queue
		log.Printf("[%s] Request dropped: %v", h.WorkerID, err)
		return false, nil
	}
	h.Processed++
	if h.Processed%100 == 0 {
		log.Printf("[%s] Processed %d events", h.WorkerID, h.Processed)
	}
	return false, nil
}

// Run consumes events until the end-of-stream marker or the end of in.
func (h *Handler) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		finished, err := h.Handle(ctx, line)
		if err != nil || finished {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	return fmt.Errorf("input closed before end-of-stream marker")
}

func (h *Handler) forward(ctx context.Context, line string) error {
	eventType, body, ok := strings.Cut(line, "\t")
	if !ok {
		return fmt.Errorf("malformed event %q", line)
	}
	// the body is JSON followed by optional trailing columns
	if i := strings.LastIndex(body, "}"); i >= 0 {
		body = body[:i+1]
	}

	form := url.Values{"type": {eventType}, "body": {body}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	recommendation, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read answer: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint answered %s", resp.Status)
	}
	if strings.Contains(body, "recommendation_request") {
		log.Printf("[%s] Recommendation served in %s", h.WorkerID, time.Since(start))
		if err := h.deliver(ctx, eventType, recommendation); err != nil {
			log.Printf("[WARNING] [%s] Recommendation not delivered: %v", h.WorkerID, err)
		}
	}
	return nil
}

// flumeEvent is the JSON form flume's HTTP source accepts.
type flumeEvent struct {
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (h *Handler) deliver(ctx context.Context, eventType string, recommendation []byte) error {
	if h.Output == "" || len(bytes.TrimSpace(recommendation)) == 0 {
		return nil
	}
	payload, err := json.Marshal([]flumeEvent{{
		Headers: map[string]string{"worker": h.WorkerID, "type": eventType},
		Body:    string(recommendation),
	}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Output, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delivery agent answered %s", resp.Status)
	}
	return nil
}
