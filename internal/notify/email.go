package notify

import (
	"context"
	"sync"
)

// Email is an outbound message. Rendering is left to the sender so the
// reconcile path never blocks on template work.
type Email struct {
	To      string
	Subject string
	Body    string
}

// EmailSender delivers a single email.
type EmailSender interface {
	Send(ctx context.Context, e Email) error
}

// InMemoryEmail records messages for tests.
type InMemoryEmail struct {
	mu   sync.Mutex
	Sent []Email
}

func (m *InMemoryEmail) Send(_ context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, e)
	return nil
}

func (m *InMemoryEmail) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// NopEmailSender drops messages. Used when no SMTP relay is configured.
type NopEmailSender struct{}

func (NopEmailSender) Send(context.Context, Email) error { return nil }
