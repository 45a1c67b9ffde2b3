package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"engage/internal/config"
	"engage/internal/domain"
	"engage/internal/realtime/feed"
	"engage/internal/realtime/localstore"
	"engage/internal/realtime/notify"
	"engage/internal/realtime/optimistic"
	"engage/internal/realtime/presence"
	"engage/internal/realtime/rest"
	"engage/internal/realtime/transport"
)

// Console client for one event's chat topic. It exercises the whole sync
// layer: snapshot load, live push, optimistic writes, typing indicators, and
// the notification feed.
func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8000", "backend base URL")
		username  = flag.String("user", "", "username")
		password  = flag.String("pass", "", "password")
		eventID   = flag.String("event", "", "event id to join")
		topicID   = flag.String("topic", "", "topic id (defaults to the event's first chat topic)")
	)
	flag.Parse()

	if *username == "" || *password == "" || *eventID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	login, err := rest.Login(ctx, *serverURL, *username, *password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	creds := domain.StaticCredentials{
		AuthToken: login.AccessToken,
		ID:        login.UserID,
		Name:      login.Username,
	}
	api := rest.NewClient(*serverURL, creds)

	topic, err := resolveTopic(ctx, api, *eventID, *topicID)
	if err != nil {
		log.Fatalf("resolve topic: %v", err)
	}
	fmt.Printf("joined topic %q (%s)\n", topic.Title, topic.ID)

	sess, err := transport.Connect(ctx, wsURL(*serverURL), creds, transport.Options{
		ReconnectMin: cfg.ReconnectMin,
		ReconnectMax: cfg.ReconnectMax,
	})
	if err != nil {
		log.Fatalf("connect push channel: %v", err)
	}
	defer sess.Close()

	room := domain.EventRoom(*eventID)

	// Feed view with optimistic writes interposed.
	rec := feed.New(api, topic.ID, topic.Kind)
	tracker := optimistic.New(rec, api, creds, optimistic.Options{
		Timeout: cfg.OptimisticTimeout,
	})
	binding := feed.Bind(sess, room, rec, tracker)
	defer binding.Close()

	if err := rec.Load(ctx); err != nil {
		log.Printf("initial load: %v", err)
	}

	// Notification feed, persisted locally across sessions.
	var kv domain.KeyValue
	if local, err := localstore.OpenSQLite(cfg.ClientSnapshotPath); err != nil {
		log.Printf("local snapshot unavailable, using memory: %v", err)
		kv = localstore.NewMemory()
	} else {
		defer local.Close()
		kv = local
	}
	store := notify.New(kv, notify.Options{Cap: cfg.NotificationCap})
	detach := store.Attach(sess, room)
	defer detach()

	// Typing indicators.
	coord := presence.New(sess, creds, presence.Options{
		TTL:      cfg.TypingTTL,
		Debounce: cfg.TypingDebounce,
	})
	defer coord.Close()
	typingCh, stopWatch := coord.Watch(room)
	defer stopWatch()

	states, stopStates := sess.StateChanges()
	defer stopStates()

	go func() {
		for {
			select {
			case <-rec.Changed():
				render(rec)
			case entries := <-typingCh:
				printTyping(entries)
			case <-store.Changed():
				fmt.Printf("* %d unread notifications\n", store.UnreadCount())
			case state := <-states:
				fmt.Printf("* connection: %s\n", state)
			}
		}
	}()

	render(rec)
	fmt.Println("commands: /ask <text>, /vote <poll-id> <option>, /answer <q-id> <text>, /react <msg-id> <emoji>, /edit <msg-id> <text>, /del <msg-id>, /older, /read, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		coord.InputActivity(room)
		runCommand(ctx, line, api, rec, tracker, store)
		coord.StopTyping(room)
	}
}

func runCommand(ctx context.Context, line string, api *rest.Client, rec *feed.Reconciler, tracker *optimistic.Tracker, store *notify.Store) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/older":
		if err := rec.LoadOlder(ctx); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case "/read":
		store.MarkAllAsRead()
	case "/ask":
		_, result := tracker.SubmitQuestion(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/ask")))
		awaitResult(result)
	case "/vote":
		if len(fields) < 3 {
			fmt.Println("! usage: /vote <poll-id> <option>")
			return
		}
		awaitResult(tracker.CastVote(ctx, fields[1], strings.Join(fields[2:], " ")))
	case "/answer":
		if len(fields) < 3 {
			fmt.Println("! usage: /answer <q-id> <text>")
			return
		}
		awaitResult(tracker.AnswerQuestion(ctx, fields[1], strings.Join(fields[2:], " ")))
	case "/react":
		if len(fields) != 3 {
			fmt.Println("! usage: /react <msg-id> <emoji>")
			return
		}
		awaitResult(tracker.React(ctx, fields[1], fields[2]))
	case "/edit":
		if len(fields) < 3 {
			fmt.Println("! usage: /edit <msg-id> <text>")
			return
		}
		if _, err := api.EditItem(ctx, fields[1], strings.Join(fields[2:], " "), ""); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case "/del":
		if len(fields) != 2 {
			fmt.Println("! usage: /del <msg-id>")
			return
		}
		if err := api.DeleteItem(ctx, fields[1]); err != nil {
			fmt.Printf("! %v\n", err)
		}
	default:
		_, result := tracker.SendMessage(ctx, line)
		awaitResult(result)
	}
}

// awaitResult reports the failure of a write without blocking the input loop.
func awaitResult(result <-chan error) {
	go func() {
		if err := <-result; err != nil {
			fmt.Printf("! write failed: %v\n", err)
		}
	}()
}

func resolveTopic(ctx context.Context, api *rest.Client, eventID, topicID string) (*domain.Topic, error) {
	topics, err := api.Topics(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if topicID != "" {
		for i := range topics {
			if topics[i].ID == topicID {
				return &topics[i], nil
			}
		}
		return nil, fmt.Errorf("%w: topic %s", domain.ErrNotFound, topicID)
	}
	for i := range topics {
		if topics[i].Kind == domain.KindMessage {
			return &topics[i], nil
		}
	}
	return api.CreateTopic(ctx, eventID, domain.KindMessage, "General")
}

func wsURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws"
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws"
	}
	return serverURL + "/ws"
}

// render prints the tail of the feed.
func render(rec *feed.Reconciler) {
	items := rec.Items()
	start := 0
	if len(items) > 10 {
		start = len(items) - 10
	}
	for _, item := range items[start:] {
		marker := " "
		if item.Pending {
			marker = "~"
		}
		var body string
		switch item.Kind {
		case domain.KindMessage:
			var msg domain.MessagePayload
			_ = domain.DecodePayload(item.Payload, &msg)
			body = msg.Text
		case domain.KindPoll:
			var poll domain.PollPayload
			_ = domain.DecodePayload(item.Payload, &poll)
			parts := make([]string, 0, len(poll.Options))
			for _, opt := range poll.Options {
				parts = append(parts, fmt.Sprintf("%s=%d", opt.Label, opt.Votes))
			}
			body = fmt.Sprintf("%s [%s] (%s)", poll.Question, strings.Join(parts, " "), poll.Status)
		case domain.KindQuestion:
			var q domain.QuestionPayload
			_ = domain.DecodePayload(item.Payload, &q)
			body = fmt.Sprintf("%s (+%d)", q.Text, q.Upvotes)
			if q.Answered {
				body += " -> " + q.Answer
			}
		}
		fmt.Printf("%s[%s] %s: %s\n", marker, item.CreatedAt.Format("15:04:05"), item.AuthorName, body)
	}
}

func printTyping(entries []domain.TypingEntry) {
	if len(entries) == 0 {
		return
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.UserName
	}
	fmt.Printf("* typing: %s\n", strings.Join(names, ", "))
}
