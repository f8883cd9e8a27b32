package store

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-sync/domain"
)

func seeded() *ChatStore {
	s := New(slog.Default())
	s.LoadSnapshot(
		context.Background(),
		[]domain.Channel{
			{ID: 1, Name: "general", Removable: false},
			{ID: 2, Name: "random", Removable: true},
		},
		[]domain.Message{
			{ID: 10, ChannelID: 1, Username: "alice", Body: "hi"},
			{ID: 11, ChannelID: 2, Username: "bob", Body: "yo"},
			{ID: 12, ChannelID: 2, Username: "alice", Body: "later"},
		},
		1,
	)
	return s
}

func TestLoadSnapshot_SetsStatusAndSelection(t *testing.T) {
	req := require.New(t)
	s := seeded()

	status, loadErr := s.Status()
	req.Equal(StatusSucceeded, status)
	req.NoError(loadErr)
	req.Equal(domain.ChannelID(1), s.Selection())
	req.Len(s.Channels(), 2)
}

func TestLoadSnapshot_UnknownSelectionFallsBack(t *testing.T) {
	req := require.New(t)
	s := New(slog.Default())
	s.LoadSnapshot(context.Background(), []domain.Channel{{ID: 7, Name: "lonely"}}, nil, 99)
	req.Equal(domain.ChannelID(7), s.Selection())
}

func TestLoadSnapshot_DiscardedAfterCancel(t *testing.T) {
	req := require.New(t)
	s := New(slog.Default())

	// A logout cancels the bootstrap context and resets the mirror; a
	// fetch that completes afterwards must not resurrect the data.
	ctx, cancel := context.WithCancel(context.Background())
	s.BeginLoad()
	cancel()
	s.Reset()

	applied := s.LoadSnapshot(ctx, []domain.Channel{{ID: 1, Name: "general"}},
		[]domain.Message{{ID: 10, ChannelID: 1, Username: "alice", Body: "hi"}}, 1)
	req.False(applied)
	req.Empty(s.Channels())
	req.Equal(domain.ChannelID(0), s.Selection())
	status, _ := s.Status()
	req.Equal(StatusIdle, status)
}

func TestBootstrapStatusMachine(t *testing.T) {
	req := require.New(t)
	s := New(slog.Default())

	status, _ := s.Status()
	req.Equal(StatusIdle, status)

	s.BeginLoad()
	status, _ = s.Status()
	req.Equal(StatusLoading, status)

	s.FailLoad(fmt.Errorf("boom"))
	status, loadErr := s.Status()
	req.Equal(StatusFailed, status)
	req.EqualError(loadErr, "boom")
	req.Empty(s.Channels())
}

func TestAppendMessage_IdempotentByID(t *testing.T) {
	req := require.New(t)
	s := seeded()

	m := domain.Message{ID: 20, ChannelID: 1, Username: "carol", Body: "new"}
	req.True(s.AppendMessage(m))
	req.False(s.AppendMessage(m))
	req.Len(s.Messages(1), 2)
}

func TestAddChannel_IdempotentByID(t *testing.T) {
	req := require.New(t)
	s := seeded()

	c := domain.Channel{ID: 3, Name: "music", Removable: true}
	req.True(s.AddChannel(c))
	req.False(s.AddChannel(c))
	req.Len(s.Channels(), 3)
}

func TestRemoveChannel_CascadesAndReselects(t *testing.T) {
	req := require.New(t)
	s := seeded()
	req.True(s.Select(2))

	s.RemoveChannel(2)

	req.Equal(domain.ChannelID(1), s.Selection())
	req.Empty(s.Messages(2))
	for _, m := range s.Messages(1) {
		req.NotEqual(domain.ChannelID(2), m.ChannelID)
	}
	_, ok := s.Channel(2)
	req.False(ok)
}

func TestRemoveChannel_LastChannelClearsSelection(t *testing.T) {
	req := require.New(t)
	s := New(slog.Default())
	s.LoadSnapshot(context.Background(), []domain.Channel{{ID: 5, Name: "only", Removable: true}}, nil, 5)

	s.RemoveChannel(5)

	req.Equal(domain.ChannelID(0), s.Selection())
	req.Empty(s.Channels())
}

func TestRemoveChannel_WithoutDefaultPicksFirstRemaining(t *testing.T) {
	req := require.New(t)
	s := New(slog.Default())
	s.LoadSnapshot(context.Background(), []domain.Channel{
		{ID: 4, Name: "alpha", Removable: true},
		{ID: 5, Name: "beta", Removable: true},
	}, nil, 5)

	s.RemoveChannel(5)
	req.Equal(domain.ChannelID(4), s.Selection())
}

func TestRemoveChannel_UnknownIsNoOp(t *testing.T) {
	req := require.New(t)
	s := seeded()
	s.RemoveChannel(99)
	req.Len(s.Channels(), 2)
}

func TestRenameChannel(t *testing.T) {
	req := require.New(t)
	s := seeded()

	s.RenameChannel(2, "casual")
	c, ok := s.Channel(2)
	req.True(ok)
	req.Equal("casual", c.Name)

	// Rename of an already-removed channel must stay silent.
	s.RenameChannel(42, "ghost")
	req.Len(s.Channels(), 2)
}

func TestSelect_RefusesUnknownChannel(t *testing.T) {
	req := require.New(t)
	s := seeded()
	req.False(s.Select(42))
	req.Equal(domain.ChannelID(1), s.Selection())
}

func TestNameTaken_CaseInsensitiveWithExclusion(t *testing.T) {
	req := require.New(t)
	s := seeded()

	req.True(s.NameTaken("GENERAL", 0))
	req.True(s.NameTaken("General", 2))
	// A channel never collides with its own name.
	req.False(s.NameTaken("random", 2))
	req.False(s.NameTaken("music", 0))
}

func TestReset(t *testing.T) {
	req := require.New(t)
	s := seeded()

	s.Reset()

	status, loadErr := s.Status()
	req.Equal(StatusIdle, status)
	req.NoError(loadErr)
	req.Empty(s.Channels())
	req.Equal(domain.ChannelID(0), s.Selection())
}

func TestUpdated_CoalescesTicks(t *testing.T) {
	req := require.New(t)
	s := seeded()
	drain(s)

	s.AppendMessage(domain.Message{ID: 30, ChannelID: 1, Username: "a", Body: "x"})
	s.AppendMessage(domain.Message{ID: 31, ChannelID: 1, Username: "a", Body: "y"})

	select {
	case <-s.Updated():
	default:
		req.Fail("expected a pending update tick")
	}
	select {
	case <-s.Updated():
		req.Fail("ticks must coalesce to one")
	default:
	}
}

func drain(s *ChatStore) {
	for {
		select {
		case <-s.Updated():
		default:
			return
		}
	}
}
