package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asheshgoplani/agent-radar/internal/journal"
	"github.com/asheshgoplani/agent-radar/internal/web"
)

// handleServe runs the HTTP/websocket status server plus the
// background hygiene loop until interrupted.
func handleServe(e *env, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", e.cfg.Web.GetListenAddr(), "listen address")
	token := fs.String("token", e.cfg.Web.Token, "require this bearer token on API requests")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	res, tracker, j := newResolver(e)
	defer tracker.Close()
	if j != nil {
		defer j.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go tracker.Run(ctx)
	go hygieneLoop(ctx, e, j)

	srv := web.NewServer(web.Config{
		ListenAddr:   *addr,
		Token:        *token,
		PushInterval: e.cfg.Web.PushInterval(),
	}, res)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	case sig := <-sigCh:
		cliLog().Info("shutting_down", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: shutdown: %v\n", err)
		return 1
	}
	return 0
}

// hygieneLoop sweeps dead locks, stale records, and old journal rows
// on a slow cadence while the server runs.
func hygieneLoop(ctx context.Context, e *env, j *journal.Journal) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	locks := newLockStore(e)
	store := newSessionStore(e)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			locks.SweepDead(e.cfg.Locks.LegacyExpiry())
			store.PruneTombstones(e.cfg.Resolver.TombstoneGrace())
			if j != nil {
				j.Prune(e.cfg.Journal.Retention())
			}
		}
	}
}
