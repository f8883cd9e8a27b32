package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-sync/domain"
	"chat-sync/internal"
	"chat-sync/moderation"
	"chat-sync/realtime"
	"chat-sync/rest"
	"chat-sync/services"
)

// Exit codes for the chat client.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function manages the OS exit code based on run()'s return.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat error: %v\n", err)
	}
	os.Exit(code)
}

// run wires configuration, storage, transports and the sync service,
// then hands control to the interactive loop. Returning instead of
// exiting keeps the deferred cleanup running on every path.
func run() (int, error) {
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	sanitizer, err := moderation.Default(log)
	if err != nil {
		return exitRuntime, fmt.Errorf("sanitizer setup failed: %w", err)
	}

	api := rest.NewClient(config.ServerURL, config.HTTPTimeout, log)
	manager := realtime.NewManager(realtime.Options{
		URL:               config.SocketURL,
		ReconnectAttempts: config.ReconnectAttempts,
		ReconnectDelay:    config.ReconnectDelay,
	}, log)

	term := newTerminal()
	svc, err := services.New(api, manager, db, &sanitizer, term, services.Options{
		AckTimeout: config.AckTimeout,
		CacheLimit: config.LimitMessages,
	}, log)
	if err != nil {
		return exitRuntime, err
	}
	svc.Start()
	defer svc.Close()

	if config.DebugPort > 0 {
		internal.StartInspector(db, config.DebugPort, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Restore(); err != nil {
		log.Warn("Session restore failed", "error", err)
	}

	go term.renderLoop(ctx, svc)
	go watchConnection(ctx, svc)

	term.printHelp()
	return repl(ctx, svc, term)
}

// watchConnection surfaces transport transitions so the user knows
// when sends will take the fallback path.
func watchConnection(ctx context.Context, svc *services.ChatService) {
	updates := svc.WatchConnection()
	for {
		select {
		case <-ctx.Done():
			return
		case status := <-updates:
			switch status {
			case realtime.StatusConnected:
				fmt.Println("-- realtime connected --")
			case realtime.StatusConnecting:
				fmt.Println("-- reconnecting... --")
			case realtime.StatusDisconnected:
				fmt.Println("-- offline, sends fall back to HTTP --")
			}
		}
	}
}

func repl(ctx context.Context, svc *services.ChatService, term *terminal) (int, error) {
	lines := make(chan string)
	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		done <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("Bye!")
			return exitOK, nil
		case err := <-done:
			return exitOK, err
		case line := <-lines:
			if quit := handle(ctx, svc, term, strings.TrimSpace(line)); quit {
				return exitOK, nil
			}
		}
	}
}

// handle executes one input line and reports whether the user quit.
func handle(ctx context.Context, svc *services.ChatService, term *terminal, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := svc.SendMessage(ctx, line); err != nil {
			term.Failure(err.Error())
		}
		return false
	}

	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "/quit":
		return true

	case "/help":
		term.printHelp()

	case "/login":
		if len(args) != 2 {
			term.Failure("usage: /login <user> <password>")
			return false
		}
		if err := svc.Login(ctx, args[0], args[1]); err != nil {
			term.Failure(err.Error())
			return false
		}
		<-svc.BootstrapDone()
		term.printChannels(svc.Store())

	case "/logout":
		if err := svc.Logout(); err != nil {
			term.Failure(err.Error())
		}

	case "/channels":
		term.printChannels(svc.Store())

	case "/select":
		id, ok := channelArg(term, args)
		if !ok {
			return false
		}
		if !svc.SelectChannel(id) {
			term.Failure(fmt.Sprintf("no channel %d", id))
			return false
		}
		term.resetChannel(id)

	case "/create":
		if len(args) == 0 {
			term.Failure("usage: /create <name>")
			return false
		}
		if err := svc.CreateChannel(ctx, strings.Join(args, " ")); err != nil {
			term.Failure(err.Error())
		}

	case "/rename":
		if len(args) < 2 {
			term.Failure("usage: /rename <id> <name>")
			return false
		}
		id, ok := channelArg(term, args[:1])
		if !ok {
			return false
		}
		if err := svc.RenameChannel(ctx, id, strings.Join(args[1:], " ")); err != nil {
			term.Failure(err.Error())
		}

	case "/remove":
		id, ok := channelArg(term, args)
		if !ok {
			return false
		}
		if err := svc.RemoveChannel(ctx, id); err != nil {
			term.Failure(err.Error())
		}

	case "/find":
		hits, err := svc.Search(ctx, strings.Join(args, " "))
		if err != nil {
			term.Failure(err.Error())
			return false
		}
		term.printResults(hits)

	case "/history":
		cached, err := svc.CachedMessages(svc.Store().Selection())
		if err != nil {
			term.Failure(err.Error())
			return false
		}
		term.printResults(cached)

	default:
		term.Failure("unknown command, /help lists them")
	}
	return false
}

func channelArg(term *terminal, args []string) (domain.ChannelID, bool) {
	if len(args) != 1 {
		term.Failure("expected a channel id")
		return 0, false
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		term.Failure(fmt.Sprintf("%q is not a channel id", args[0]))
		return 0, false
	}
	return domain.ChannelID(id), true
}
