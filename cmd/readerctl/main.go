// readerctl is a terminal client for a co-reading session: it joins (or
// creates) a document session, follows the leader's page, and prints the
// annotation and presence traffic as it happens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/coreadhq/coread-backend/internal/apiclient"
	"github.com/coreadhq/coread-backend/internal/session"
	"github.com/coreadhq/coread-backend/internal/transport"
)

func main() {
	var (
		server  = flag.String("server", "http://localhost:8080", "sync service base URL")
		doc     = flag.String("session", "", "session id to join; empty creates a new one")
		user    = flag.String("user", "", "user id (required)")
		name    = flag.String("name", "", "display name, defaults to the user id")
		page    = flag.Int("page", -1, "navigate to this page after joining (leader only)")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "readerctl: -user is required")
		os.Exit(2)
	}
	if *name == "" {
		*name = *user
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *server, *doc, *user, *name, *page, logger); err != nil {
		fmt.Fprintln(os.Stderr, "readerctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, server, doc, user, name string, page int, logger *zap.Logger) error {
	api := apiclient.New(server, logger)

	docID, err := api.CreateSession(ctx, doc)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	fmt.Println("session:", docID)

	connect := func(ctx context.Context) (session.Transport, error) {
		return transport.DialWithRetry(ctx, transport.Options{
			BaseURL:     server,
			SessionID:   docID,
			UserID:      user,
			DisplayName: name,
			Logger:      logger,
		})
	}

	ctrl, err := session.New(session.Config{
		DocumentID:  docID,
		UserID:      user,
		DisplayName: name,
		Connect:     connect,
		API:         api,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer ctrl.Close()

	v, err := ctrl.View()
	if err != nil {
		return err
	}
	fmt.Printf("joined as %s (role=%s leader=%s epoch=%d page=%d)\n",
		user, v.Role, v.LeaderID, v.Epoch, v.Page)
	for _, p := range ctrl.Participants() {
		marker := " "
		if p.IsCurrentLeader {
			marker = "*"
		}
		fmt.Printf("  %s %s (%s)\n", marker, p.DisplayName, p.UserID)
	}
	fmt.Printf("%d annotations\n", len(ctrl.Annotations()))

	if page >= 0 {
		if err := ctrl.ChangePage(page); err != nil {
			return fmt.Errorf("change page: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println("leaving")
			return nil
		case p := <-ctrl.PageTargets():
			fmt.Println("page:", p)
		case ev := <-ctrl.Events():
			printEvent(ctrl, ev)
		}
	}
}

func printEvent(ctrl *session.Controller, ev session.Event) {
	switch ev.Kind {
	case session.EventLeadershipChanged:
		fmt.Println("leader is now", ev.Detail)
	case session.EventParticipantsChanged:
		fmt.Println("participants:", len(ctrl.Participants()))
	case session.EventAnnotationsChanged:
		fmt.Println("annotations:", len(ctrl.Annotations()))
	case session.EventSyncLost:
		fmt.Println("connection lost, reconnecting...")
	case session.EventSyncRestored:
		fmt.Println("back in sync")
	case session.EventSyncFailed:
		fmt.Println("reconnect failed:", ev.Detail, "(run again to retry)")
	case session.EventServiceError:
		fmt.Println("service error:", ev.Detail)
	}
}
