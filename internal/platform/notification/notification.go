// Package notification renders appointment notifications from templates and
// hands them to the notification service through a Publisher. Delivery is
// fire-and-forget: failures are logged and never reach the caller.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

// Event is one notification as published to the notification service.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Publisher hands an event to the notification service.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "appointment-booked",
			Name:    "Appointment Booked",
			Subject: "Your appointment on {{date}} is confirmed",
			Body:    "Your appointment with the doctor on {{date}} at {{time}} has been booked. Reference: {{reservation_id}}.",
		},
		{
			ID:      "appointment-canceled",
			Name:    "Appointment Cancelled",
			Subject: "Your appointment on {{date}} was cancelled",
			Body:    "Your appointment on {{date}} at {{time}} has been cancelled. Reference: {{reservation_id}}.",
		},
		{
			ID:      "medical-test-booked",
			Name:    "Medical Test Appointed",
			Subject: "Your medical test on {{date}} is confirmed",
			Body:    "Your medical test on {{date}} at {{time}} has been appointed. Reference: {{reservation_id}}.",
		},
		{
			ID:      "medical-test-canceled",
			Name:    "Medical Test Cancelled",
			Subject: "Your medical test on {{date}} was cancelled",
			Body:    "Your medical test on {{date}} at {{time}} has been cancelled. Reference: {{reservation_id}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher renders events and publishes them in the background.
type Dispatcher struct {
	publisher Publisher
	templates *TemplateEngine
	log       zerolog.Logger
	timeout   time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher. Each publish gets timeout to finish.
func NewDispatcher(p Publisher, tpl *TemplateEngine, log zerolog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		publisher: p,
		templates: tpl,
		log:       log,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Notify renders templateID with data and publishes the resulting event
// without blocking the caller. The publish outlives cancellation of ctx.
func (d *Dispatcher) Notify(ctx context.Context, eventType, templateID, recipient string, data map[string]string) {
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		d.log.Error().Err(err).Str("event_type", eventType).Msg("render notification")
		return
	}
	ev := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
		Data:       data,
		CreatedAt:  d.now().UTC(),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.publisher.Publish(pctx, ev); err != nil {
			d.log.Error().Err(err).
				Str("event_id", ev.ID).
				Str("event_type", ev.Type).
				Str("recipient", ev.Recipient).
				Msg("publish notification")
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ---------------------------------------------------------------------------
// Log Publisher
// ---------------------------------------------------------------------------

// LogPublisher writes events to the log instead of a queue. It is used when
// no broker is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Info().
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Str("recipient", ev.Recipient).
		Str("subject", ev.Subject).
		Msg("notification")
	return nil
}
