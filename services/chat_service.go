// Package services composes the synchronization core: session
// lifecycle, connection management, reconciliation and dispatch
// behind one facade the UI talks to.
package services

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"chat-sync/contract"
	"chat-sync/dispatch"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/moderation"
	"chat-sync/realtime"
	"chat-sync/reconcile"
	"chat-sync/repositories"
	"chat-sync/rest"
	"chat-sync/search"
	"chat-sync/session"
	"chat-sync/store"
	"chat-sync/validation"
)

// Realtime is the connection manager surface the service composes.
type Realtime interface {
	contract.Commander
	Connect(credential string)
	Disconnect()
	Pushes() <-chan realtime.Push
	Watch() <-chan realtime.Status
}

// API is the stateless transport surface: the dispatcher's fallback
// operations plus the read side used by login and bootstrap.
type API interface {
	contract.Fallback
	Login(ctx context.Context, username, password string) (rest.Credentials, error)
	ListChannels(ctx context.Context, token string) ([]domain.Channel, error)
	ListMessages(ctx context.Context, token string) ([]domain.Message, error)
}

type ChatService struct {
	api        API
	manager    Realtime
	chatStore  *store.ChatStore
	sessions   *session.Store
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
	cache      repositories.MessageCache
	notifier   contract.Notifier
	log        *slog.Logger

	mu    sync.Mutex
	index *search.Index

	runOnce   sync.Once
	runCancel context.CancelFunc
}

type Options struct {
	AckTimeout time.Duration
	CacheLimit *int
}

func New(api API, manager Realtime, db *badger.DB, sanitizer *moderation.Sanitizer,
	notifier contract.Notifier, opts Options, log *slog.Logger) (*ChatService, error) {
	index, err := search.NewIndex(log)
	if err != nil {
		return nil, err
	}

	svc := &ChatService{
		api:       api,
		manager:   manager,
		chatStore: store.New(log),
		cache:     repositories.NewMessageCache(db, log, opts.CacheLimit),
		notifier:  notifier,
		index:     index,
		log:       log,
	}
	svc.sessions = session.NewStore(
		repositories.NewSessionRepository(db, log),
		manager,
		svc.resetMirror,
		svc.bootstrap,
		log,
	)
	svc.dispatcher = dispatch.New(manager, api, svc.sessions, notifier, sanitizer, opts.AckTimeout, log)
	svc.reconciler = reconcile.New(manager.Pushes(), svc.chatStore, sanitizer, log,
		svc.cache, sinkFunc(func(_ context.Context, m domain.Message) error {
			return svc.indexMessage(m)
		}))
	return svc, nil
}

// sinkFunc adapts a function to the reconciler's message sink.
type sinkFunc func(ctx context.Context, m domain.Message) error

func (f sinkFunc) Consume(ctx context.Context, m domain.Message) error { return f(ctx, m) }

// Start launches the reconciler. One subscription for the whole
// service lifetime; reconnects reuse it.
func (s *ChatService) Start() {
	s.runOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.runCancel = cancel
		go func() {
			if err := s.reconciler.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
				s.log.Warn("Reconciler stopped", "error", err)
			}
		}()
	})
}

func (s *ChatService) Close() {
	if s.runCancel != nil {
		s.runCancel()
	}
	s.manager.Disconnect()
	s.mu.Lock()
	_ = s.index.Close()
	s.mu.Unlock()
}

// Login authenticates over the stateless transport, then hands the
// credential to the session store (persist, connect, bootstrap).
func (s *ChatService) Login(ctx context.Context, username, password string) error {
	creds, err := s.api.Login(ctx, username, password)
	if err != nil {
		return err
	}
	return s.sessions.Login(creds.Token, creds.Username)
}

// Restore resumes a persisted session at startup, if one survives.
func (s *ChatService) Restore() error {
	return s.sessions.Restore()
}

func (s *ChatService) Logout() error {
	return s.sessions.Logout()
}

func (s *ChatService) Session() (session.Session, bool) {
	return s.sessions.Current()
}

// Store exposes the mirror read-side for rendering.
func (s *ChatService) Store() *store.ChatStore { return s.chatStore }

func (s *ChatService) ConnectionStatus() realtime.Status       { return s.manager.Status() }
func (s *ChatService) WatchConnection() <-chan realtime.Status { return s.manager.Watch() }

// BootstrapDone unblocks when the last started bootstrap finished,
// whatever its outcome; the store status carries the outcome itself.
func (s *ChatService) BootstrapDone() <-chan struct{} {
	return s.sessions.BootstrapDone()
}

// SendMessage posts a message to the selected channel. The result is
// applied idempotently: whichever of the fallback response and the
// push event arrives second is a no-op.
func (s *ChatService) SendMessage(ctx context.Context, body string) error {
	current, ok := s.sessions.Current()
	if !ok {
		return errors.ErrNoSession
	}
	selected := s.chatStore.Selection()
	if selected == 0 {
		return fmt.Errorf("no channel selected")
	}

	result, err := s.dispatcher.Dispatch(ctx, domain.SendMessage{
		ChannelID: selected,
		Username:  current.Username,
		Body:      body,
	})
	if err != nil {
		s.observe(err)
		return err
	}

	var created domain.Message
	if len(result.Data) > 0 && json.Unmarshal(result.Data, &created) == nil && created.ID != 0 {
		if s.chatStore.AppendMessage(created) {
			_ = s.cache.Consume(ctx, created)
			_ = s.indexMessage(created)
		}
	}
	return nil
}

// CreateChannel validates locally, dispatches, and selects the new
// channel for its creator. Other clients learn about it through the
// push event alone.
func (s *ChatService) CreateChannel(ctx context.Context, name string) error {
	trimmed, err := validation.ChannelName(name, 0, s.chatStore)
	if err != nil {
		return err
	}

	result, err := s.dispatcher.Dispatch(ctx, domain.NewChannel{ChannelName: trimmed})
	if err != nil {
		s.observe(err)
		return err
	}

	var created domain.Channel
	if len(result.Data) > 0 && json.Unmarshal(result.Data, &created) == nil && created.ID != 0 {
		s.chatStore.AddChannel(created)
		s.chatStore.Select(created.ID)
	}
	return nil
}

func (s *ChatService) RenameChannel(ctx context.Context, id domain.ChannelID, name string) error {
	channel, ok := s.chatStore.Channel(id)
	if !ok {
		return fmt.Errorf("unknown channel %d", id)
	}
	if err := validation.Mutable(channel); err != nil {
		return err
	}
	trimmed, err := validation.ChannelName(name, id, s.chatStore)
	if err != nil {
		return err
	}

	if _, err := s.dispatcher.Dispatch(ctx, domain.RenameChannel{ID: id, ChannelName: trimmed}); err != nil {
		s.observe(err)
		return err
	}
	s.chatStore.RenameChannel(id, trimmed)
	return nil
}

func (s *ChatService) RemoveChannel(ctx context.Context, id domain.ChannelID) error {
	channel, ok := s.chatStore.Channel(id)
	if !ok {
		return fmt.Errorf("unknown channel %d", id)
	}
	if err := validation.Mutable(channel); err != nil {
		return err
	}

	if _, err := s.dispatcher.Dispatch(ctx, domain.RemoveChannel{ID: id}); err != nil {
		s.observe(err)
		return err
	}
	s.chatStore.RemoveChannel(id)
	_ = s.cache.Purge(id)
	s.mu.Lock()
	_ = s.index.PurgeChannel(ctx, id)
	s.mu.Unlock()
	return nil
}

func (s *ChatService) SelectChannel(id domain.ChannelID) bool {
	return s.chatStore.Select(id)
}

// Search queries the local message index.
func (s *ChatService) Search(ctx context.Context, input string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Search(ctx, search.ParseQuery(input))
}

// CachedMessages serves the offline view of one channel.
func (s *ChatService) CachedMessages(id domain.ChannelID) ([]domain.Message, error) {
	return s.cache.Messages(id)
}

// bootstrap runs the initial fetch under a context the session owns;
// a logout cancels it and the late response is discarded unapplied.
func (s *ChatService) bootstrap(ctx context.Context) {
	s.chatStore.BeginLoad()

	token, ok := s.sessions.Token()
	if !ok {
		s.chatStore.FailLoad(errors.ErrNoSession)
		return
	}

	channels, err := s.api.ListChannels(ctx, token)
	if err != nil {
		s.failBootstrap(ctx, err)
		return
	}
	messages, err := s.api.ListMessages(ctx, token)
	if err != nil {
		s.failBootstrap(ctx, err)
		return
	}
	selection := domain.ChannelID(0)
	if len(channels) > 0 {
		selection = channels[0].ID
	}
	if !s.chatStore.LoadSnapshot(ctx, channels, messages, selection) {
		s.log.Debug("Discarding bootstrap result after logout")
		return
	}
	for _, m := range messages {
		_ = s.indexMessage(m)
	}
	s.log.Info("Bootstrap complete", "channels", len(channels), "messages", len(messages))
}

func (s *ChatService) failBootstrap(ctx context.Context, err error) {
	if ctx.Err() != nil {
		// Logout already reset the store; a late failure must not
		// resurrect an error state.
		return
	}
	s.observe(err)
	if stderrors.Is(err, errors.ErrUnauthorized) {
		return
	}
	s.chatStore.FailLoad(err)
}

// observe routes authentication failures into a forced logout; every
// other error stays local to its operation.
func (s *ChatService) observe(err error) {
	if !stderrors.Is(err, errors.ErrUnauthorized) {
		return
	}
	s.log.Warn("Credential rejected, forcing logout")
	if s.notifier != nil {
		s.notifier.Failure("Session expired, please log in again")
	}
	_ = s.sessions.Logout()
}

// resetMirror clears everything derived from server state: the store
// and the search index. Cached messages stay on disk for offline use.
func (s *ChatService) resetMirror() {
	s.chatStore.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.index.Close()
	index, err := search.NewIndex(s.log)
	if err != nil {
		s.log.Error("Rebuilding search index failed", "error", err)
		return
	}
	s.index = index
}

func (s *ChatService) indexMessage(m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Add(m)
}
