package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/pkg/logger"
	"github.com/okian/swapbridge/pkg/metrics"
)

// Exchanger trades user credentials for a bearer token.
type Exchanger interface {
	Exchange(ctx context.Context, cred model.Credential) (string, error)
}

// Prompter asks an operator for credentials.
type Prompter interface {
	Prompt(ctx context.Context) (model.Credential, error)
}

// Broker holds the outbound bearer token. One instance is shared by every
// notification; the lock is held across login so concurrent callers wait
// for a single login and then see its token.
type Broker struct {
	exchanger   Exchanger
	prompter    Prompter
	configured  model.Credential
	interactive bool

	mu    sync.Mutex
	token string

	logger logger.Logger
}

// BrokerOption applies a configuration option to the Broker.
type BrokerOption func(*Broker)

// WithCredential sets the username and password used for non-interactive login.
func WithCredential(cred model.Credential) BrokerOption {
	return func(b *Broker) {
		b.configured = cred
	}
}

// WithPrompter enables interactive login through p when Token finds no
// cached token and no configured credential.
func WithPrompter(p Prompter) BrokerOption {
	return func(b *Broker) {
		b.prompter = p
		b.interactive = p != nil
	}
}

// WithBrokerLogger sets a custom logger for the broker.
func WithBrokerLogger(l logger.Logger) BrokerOption {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithToken seeds the cache, for a token obtained elsewhere.
func WithToken(token string) BrokerOption {
	return func(b *Broker) {
		b.token = token
	}
}

// NewBroker creates a broker that logs in through exchanger.
func NewBroker(exchanger Exchanger, opts ...BrokerOption) *Broker {
	b := &Broker{exchanger: exchanger}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get().Named("auth")
	}
	return b
}

// Token returns the cached token, logging in first if there is none.
func (b *Broker) Token(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" {
		return b.token, nil
	}
	return b.loginLocked(ctx, b.interactive)
}

// Login discards any cached token and acquires a new one. With interactive
// set, the prompter is used when no credential is configured.
func (b *Broker) Login(ctx context.Context, interactive bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.token = ""
	return b.loginLocked(ctx, interactive)
}

// Invalidate drops the cached token.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	b.token = ""
	b.mu.Unlock()
}

func (b *Broker) loginLocked(ctx context.Context, interactive bool) (string, error) {
	mode := "configured"
	cred := b.configured
	if cred.Username == "" || cred.Secret == "" {
		if !interactive || b.prompter == nil {
			metrics.RecordLogin("none", "unavailable")
			return "", ErrNotAuthenticated
		}
		mode = "interactive"
		var err error
		cred, err = b.prompter.Prompt(ctx)
		if err != nil {
			metrics.RecordLogin(mode, "failed")
			return "", fmt.Errorf("prompt for credentials: %w: %w", ErrNotAuthenticated, err)
		}
	}

	token, err := b.exchanger.Exchange(ctx, cred)
	if err != nil {
		metrics.RecordLogin(mode, "failed")
		b.logger.Error(ctx, "login failed", logger.String("mode", mode), logger.String("user", cred.Username), logger.Error(err))
		if errors.Is(err, ErrNotAuthenticated) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	if token == "" {
		metrics.RecordLogin(mode, "failed")
		return "", fmt.Errorf("empty token for %s: %w", cred.Username, ErrNotAuthenticated)
	}

	b.token = token
	metrics.RecordLogin(mode, "ok")
	b.logger.Info(ctx, "logged in", logger.String("mode", mode), logger.String("user", cred.Username))
	return token, nil
}
