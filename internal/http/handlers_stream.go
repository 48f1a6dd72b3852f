package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/psyassess/assessd/internal/service"
)

// SSE event names written to report status streams.
const (
	EventReportReady  = "report_ready"
	EventReportFailed = "report_failed"
)

// ReportStreamer runs the subscribe/wait/deliver cycle for one connection.
type ReportStreamer interface {
	Stream(ctx context.Context, assessmentID string, sink service.Sink) (service.StreamEnd, error)
}

var _ ReportStreamer = (*service.SubscriptionBridge)(nil)

// StreamHandlers serves the report status event stream.
type StreamHandlers struct {
	Bridge ReportStreamer
	Logger *slog.Logger
}

// ReportStatus handles GET /sse/report-status/{id}. It holds the connection open
// until the assessment reaches a terminal outcome, the client leaves, or the
// stream's maximum duration passes.
func (h *StreamHandlers) ReportStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAssessmentID(w, r)
	if !ok {
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.WarnContext(r.Context(), "clear write deadline failed", "error", err)
	}

	sink := newSSESink(w, rc)
	end, err := h.Bridge.Stream(r.Context(), id, sink)
	if err != nil && !sink.started {
		// Subscribing failed before any frame went out, so a normal error response is still possible.
		logger.ErrorContext(r.Context(), "report stream failed to start", "assessment_id", id, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: ErrCodeUnavailable,
			Err:     errors.New("report status stream unavailable"),
		})
		return
	}
	if err != nil {
		logger.InfoContext(r.Context(), "report stream ended with error", "assessment_id", id, "end", end, "error", err)
		return
	}
	logger.DebugContext(r.Context(), "report stream ended", "assessment_id", id, "end", end)
}

// sseSink writes bridge events as server-sent event frames. Headers go out on
// Open so a failed subscribe can still answer with JSON.
type sseSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newSSESink(w http.ResponseWriter, rc *http.ResponseController) *sseSink {
	return &sseSink{w: w, rc: rc}
}

type readyData struct {
	SubmissionID string `json:"submission_id"`
}

type failedData struct {
	SubmissionID string `json:"submission_id"`
	Error        string `json:"error"`
}

func (s *sseSink) Ready(id string) error {
	return s.event(EventReportReady, readyData{SubmissionID: id})
}

func (s *sseSink) Failed(id, detail string) error {
	return s.event(EventReportFailed, failedData{SubmissionID: id, Error: detail})
}

func (s *sseSink) Keepalive() error {
	return s.write([]byte(":\n\n"))
}

func (s *sseSink) event(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s data: %w", name, err)
	}
	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(name)
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return s.write(buf.Bytes())
}

// Open sends the stream headers once the subscription exists.
func (s *sseSink) Open() error {
	if s.started {
		return nil
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
	return s.rc.Flush()
}

func (s *sseSink) write(frame []byte) error {
	if err := s.Open(); err != nil {
		return err
	}
	if _, err := io.Copy(s.w, bytes.NewReader(frame)); err != nil {
		return err
	}
	return s.rc.Flush()
}

var (
	_ service.Sink   = (*sseSink)(nil)
	_ service.Opener = (*sseSink)(nil)
)
