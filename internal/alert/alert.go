// Package alert sends operator notifications to a chat webhook.
//
// Alerts are fire-and-forget: they never block or fail the operation that
// raised them. A dropped alert is preferable to a stalled provisioning cycle.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/metrics"
)

// Sender delivers alerts to operators.
type Sender interface {
	// SendAlert notifies operators. err may be nil.
	SendAlert(message string, err error)
}

// Service posts alerts to a webhook URL. With an empty URL alerts are
// log-only, which is the development default.
type Service struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewService creates an alert service.
func NewService(webhookURL string, logger *slog.Logger) *Service {
	return &Service{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

type payload struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// SendAlert logs the alert and posts it to the configured webhook in the
// background. Delivery failures are logged, never returned.
func (s *Service) SendAlert(message string, err error) {
	if err != nil {
		s.logger.Error("alert", "message", message, "error", err)
	} else {
		s.logger.Error("alert", "message", message)
	}
	metrics.AlertsSentTotal.Inc()

	if s.webhookURL == "" {
		return
	}

	p := payload{Text: message}
	if err != nil {
		p.Error = err.Error()
	}
	go s.post(p)
}

func (s *Service) post(p payload) {
	body, err := json.Marshal(p)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("alert webhook delivery failed", "error", err)
		return
	}
	_ = resp.Body.Close()
}

// Recorder is an in-memory Sender for tests.
type Recorder struct {
	mu     sync.Mutex
	alerts []RecordedAlert
}

// RecordedAlert is a captured alert.
type RecordedAlert struct {
	Message string
	Err     error
}

// NewRecorder creates a recording alert sink.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SendAlert(message string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, RecordedAlert{Message: message, Err: err})
}

// Alerts returns all captured alerts.
func (r *Recorder) Alerts() []RecordedAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedAlert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Count returns the number of captured alerts.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}
