// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbitflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/GwynCerbin/rabbitflow/pkg/broker"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SessionPublisher is a broker.Publisher for work that runs outside a
// consumption cycle, such as poll checks. It dials a session on first use and
// drops it after a failed publish, so the next call dials again.
type SessionPublisher struct {
	dialer broker.Dialer
	logger *zap.Logger

	mu        sync.Mutex
	session   broker.Session
	publisher broker.Publisher
}

// NewSessionPublisher returns an idle SessionPublisher.
func NewSessionPublisher(dialer broker.Dialer) *SessionPublisher {
	return &SessionPublisher{
		dialer: dialer,
		logger: zap.L(),
	}
}

// SetLogger overrides the global zap logger. Pass nil to restore zap.L().
func (p *SessionPublisher) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.L()
	}

	p.logger = logger
}

// Publish implements broker.Publisher.
func (p *SessionPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	session, publisher, err := p.acquire(ctx)
	if err != nil {
		return err
	}

	if err := publisher.Publish(ctx, routingKey, body); err != nil {
		p.drop(session)

		return err
	}

	return nil
}

func (p *SessionPublisher) acquire(ctx context.Context) (broker.Session, broker.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return p.session, p.publisher, nil
	}

	session, err := p.dialer.Dial(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}

	publisher, err := session.Publisher()
	if err != nil {
		return nil, nil, multierr.Append(fmt.Errorf("publisher: %w", err), session.Close())
	}

	p.logger.Debug("publisher session opened")

	p.session, p.publisher = session, publisher

	return session, publisher, nil
}

// drop forgets session unless another caller already replaced it.
func (p *SessionPublisher) drop(session broker.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != session {
		return
	}

	if err := session.Close(); err != nil {
		p.logger.Debug("close failed publisher session", zap.Error(err))
	}

	p.session, p.publisher = nil, nil
}

// Close closes the current session, if any.
func (p *SessionPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil
	}

	err := p.session.Close()
	p.session, p.publisher = nil, nil

	return err
}
