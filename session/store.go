// Package session owns the auth credential and its lifecycle. It
// performs no network calls itself: login, logout and restore only
// orchestrate the durable record, the connection manager and the chat
// store around the credential.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chat-sync/repositories"
)

type Session struct {
	Credential string
	Username   string
}

// Connector is the slice of the connection manager the session drives.
type Connector interface {
	Connect(credential string)
	Disconnect()
}

// Store ties session presence to the connection and to the chat
// mirror. The bootstrap loader runs under a context the store owns,
// so logout can cancel an in-flight fetch.
type Store struct {
	repo      repositories.SessionRepository
	conn      Connector
	reset     func()
	bootstrap func(ctx context.Context)
	log       *slog.Logger

	mu            sync.Mutex
	current       *Session
	cancel        context.CancelFunc
	bootstrapDone chan struct{}
}

func NewStore(repo repositories.SessionRepository, conn Connector,
	reset func(), bootstrap func(ctx context.Context), log *slog.Logger) *Store {
	return &Store{
		repo:      repo,
		conn:      conn,
		reset:     reset,
		bootstrap: bootstrap,
		log:       log,
	}
}

// Login persists the credential durably, connects and starts the
// bootstrap fetch.
func (s *Store) Login(credential, username string) error {
	if err := s.repo.Save(repositories.SessionRecord{
		Credential: credential,
		Username:   username,
	}); err != nil {
		return err
	}
	s.begin(credential, username)
	return nil
}

// Restore reads durable storage at startup. With a live credential it
// behaves like the tail of Login without fresh user input; an expired
// one is erased and ignored.
func (s *Store) Restore() error {
	record, found, err := s.repo.Load()
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if expired(record.Credential) {
		s.log.Info("Stored credential expired, staying logged out")
		return s.repo.Clear()
	}
	s.begin(record.Credential, record.Username)
	return nil
}

// Logout erases the persisted and in-memory credential, cancels any
// in-flight bootstrap, disconnects and resets the chat mirror. Safe
// to call when already logged out.
func (s *Store) Logout() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.current = nil
	s.mu.Unlock()

	err := s.repo.Clear()
	s.conn.Disconnect()
	s.reset()
	return err
}

// Current returns the in-memory session, if any.
func (s *Store) Current() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// Token implements the dispatcher's token source.
func (s *Store) Token() (string, bool) {
	current, ok := s.Current()
	return current.Credential, ok
}

func (s *Store) begin(credential, username string) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.current = &Session{Credential: credential, Username: username}
	done := make(chan struct{})
	s.bootstrapDone = done
	s.mu.Unlock()

	s.conn.Connect(credential)
	go func() {
		defer close(done)
		s.bootstrap(ctx)
	}()
}

// BootstrapDone exposes completion of the last started bootstrap, for
// callers that want to block on the initial load (the CLI does).
func (s *Store) BootstrapDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bootstrapDone == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.bootstrapDone
}

// expired inspects the credential as a JWT without verifying it; the
// server owns verification. Opaque credentials never expire locally.
func expired(credential string) bool {
	token, _, err := jwt.NewParser().ParseUnverified(credential, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
