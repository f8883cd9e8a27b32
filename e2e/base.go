package e2e

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"

	"chat-sync/moderation"
	"chat-sync/realtime"
	"chat-sync/rest"
	"chat-sync/services"
)

type BaseSuite struct {
	suite.Suite
	Config Config
	server *fakeServer

	serverURL string
	socketURL string
}

// SetupSuite loads the environment configuration and, when no external
// server is configured, starts the in-process fake.
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)

	s.serverURL, s.socketURL = s.Config.ServerURL, s.Config.SocketURL
	if s.serverURL == "" {
		s.server = newFakeServer()
		s.serverURL = s.server.URL()
		s.socketURL = s.server.SocketURL()
	}
}

func (s *BaseSuite) TearDownSuite() {
	if s.server != nil {
		s.server.Close()
	}
}

// Step prints a colorized header so scenario logs read as a script.
func (s *BaseSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// NewClient assembles a full client stack against the suite's server.
// Each call gets an isolated cache directory.
func (s *BaseSuite) NewClient() *services.ChatService {
	return s.newClient(s.socketURL)
}

func (s *BaseSuite) newClient(socketURL string) *services.ChatService {
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(s.T().TempDir()).
		WithLoggingLevel(badger.ERROR))
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = db.Close() })

	sanitizer, err := moderation.Default(log)
	s.Require().NoError(err)

	api := rest.NewClient(s.serverURL, 5*time.Second, log)
	manager := realtime.NewManager(realtime.Options{
		URL:               socketURL,
		ReconnectAttempts: 3,
		ReconnectDelay:    50 * time.Millisecond,
	}, log)

	svc, err := services.New(api, manager, db, &sanitizer, noopNotifier{}, services.Options{
		AckTimeout: 2 * time.Second,
	}, log)
	s.Require().NoError(err)
	svc.Start()
	s.T().Cleanup(svc.Close)
	return svc
}

// WaitConnected blocks until the realtime transport is up.
func (s *BaseSuite) WaitConnected(svc *services.ChatService) {
	s.Require().Eventually(func() bool {
		return svc.ConnectionStatus() == realtime.StatusConnected
	}, 3*time.Second, 20*time.Millisecond, "realtime never connected")
}

type noopNotifier struct{}

func (noopNotifier) Success(string) {}
func (noopNotifier) Failure(string) {}
