package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"chat-sync/repositories"
)

type fakeConnector struct {
	connects    atomic.Int32
	disconnects atomic.Int32
	lastToken   atomic.Value
}

func (f *fakeConnector) Connect(credential string) {
	f.connects.Add(1)
	f.lastToken.Store(credential)
}

func (f *fakeConnector) Disconnect() { f.disconnects.Add(1) }

func newStore(t *testing.T, conn *fakeConnector, bootstrap func(ctx context.Context)) (*Store, repositories.SessionRepository) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repositories.NewSessionRepository(db, slog.Default())
	if bootstrap == nil {
		bootstrap = func(context.Context) {}
	}
	return NewStore(repo, conn, func() {}, bootstrap, slog.Default()), repo
}

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		Subject:   "alice",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestLogin_PersistsAndConnects(t *testing.T) {
	req := require.New(t)
	conn := &fakeConnector{}
	store, repo := newStore(t, conn, nil)

	req.NoError(store.Login("tok-abc", "alice"))
	<-store.BootstrapDone()

	record, found, err := repo.Load()
	req.NoError(err)
	req.True(found)
	req.Equal("alice", record.Username)
	req.Equal(int32(1), conn.connects.Load())
	req.Equal("tok-abc", conn.lastToken.Load())

	token, ok := store.Token()
	req.True(ok)
	req.Equal("tok-abc", token)
}

func TestLogout_ErasesAndDisconnects(t *testing.T) {
	req := require.New(t)
	conn := &fakeConnector{}
	store, repo := newStore(t, conn, nil)

	req.NoError(store.Login("tok-abc", "alice"))
	<-store.BootstrapDone()
	req.NoError(store.Logout())

	_, found, err := repo.Load()
	req.NoError(err)
	req.False(found)
	req.Equal(int32(1), conn.disconnects.Load())
	_, ok := store.Token()
	req.False(ok)
}

func TestLogout_WhenLoggedOutIsSafe(t *testing.T) {
	conn := &fakeConnector{}
	store, _ := newStore(t, conn, nil)
	require.NoError(t, store.Logout())
}

func TestRestore_ReconnectsWithStoredCredential(t *testing.T) {
	req := require.New(t)
	conn := &fakeConnector{}
	store, repo := newStore(t, conn, nil)

	token := signedToken(t, time.Hour)
	req.NoError(repo.Save(repositories.SessionRecord{Credential: token, Username: "alice"}))

	req.NoError(store.Restore())
	<-store.BootstrapDone()

	req.Equal(int32(1), conn.connects.Load())
	current, ok := store.Current()
	req.True(ok)
	req.Equal("alice", current.Username)
}

func TestRestore_WithoutRecordStaysLoggedOut(t *testing.T) {
	req := require.New(t)
	conn := &fakeConnector{}
	store, _ := newStore(t, conn, nil)

	req.NoError(store.Restore())
	req.Equal(int32(0), conn.connects.Load())
	_, ok := store.Current()
	req.False(ok)
}

func TestRestore_ExpiredCredentialIsErased(t *testing.T) {
	req := require.New(t)
	conn := &fakeConnector{}
	store, repo := newStore(t, conn, nil)

	token := signedToken(t, -time.Hour)
	req.NoError(repo.Save(repositories.SessionRecord{Credential: token, Username: "alice"}))

	req.NoError(store.Restore())

	req.Equal(int32(0), conn.connects.Load())
	_, found, err := repo.Load()
	req.NoError(err)
	req.False(found)
}

func TestRestore_OpaqueCredentialIsKept(t *testing.T) {
	req := require.New(t)
	conn := &fakeConnector{}
	store, repo := newStore(t, conn, nil)

	req.NoError(repo.Save(repositories.SessionRecord{Credential: "not-a-jwt", Username: "alice"}))
	req.NoError(store.Restore())
	<-store.BootstrapDone()
	req.Equal(int32(1), conn.connects.Load())
}

func TestLogout_CancelsInFlightBootstrap(t *testing.T) {
	req := require.New(t)
	conn := &fakeConnector{}
	canceled := make(chan struct{})
	store, _ := newStore(t, conn, func(ctx context.Context) {
		<-ctx.Done()
		close(canceled)
	})

	req.NoError(store.Login("tok", "alice"))
	req.NoError(store.Logout())

	select {
	case <-canceled:
	case <-time.After(3 * time.Second):
		req.Fail("bootstrap context was not canceled by logout")
	}
}
