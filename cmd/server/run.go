package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"waitlist/internal/adapters/email"
	web "waitlist/internal/adapters/http"
	"waitlist/internal/adapters/http/perf"
	"waitlist/internal/adapters/storage"
	accountStore "waitlist/internal/adapters/storage/account"
	entryStore "waitlist/internal/adapters/storage/entry"
	"waitlist/internal/adapters/storage/kv"
	"waitlist/internal/application/orchestrators"
	"waitlist/internal/application/projections"
	"waitlist/internal/config"
	"waitlist/internal/domain/entry"
)

const (
	shutdownTimeout = 10 * time.Second
	notifyTimeout   = 15 * time.Second
)

// waitlistStore is what the server needs from either store variant.
type waitlistStore interface {
	entryStore.Store
	entryStore.Fetcher
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.Logger.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.InitDB(db); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	collector := perf.NewCollector(perf.DefaultRingSize)
	tdb := storage.NewTimedDB(db, collector, cfg.DB.SlowQuery)
	markers := kv.NewSQLiteStore(tdb)

	var entries waitlistStore
	switch cfg.Store.Mode {
	case config.StoreModeLocal:
		local := entryStore.NewLocalStore(markers)
		if cfg.Store.SeedSamples {
			seeded, err := local.SeedIfEmpty(ctx, entry.SampleEntries(loc))
			if err != nil {
				return fmt.Errorf("seed samples: %w", err)
			}
			if seeded {
				logger.Info("store_seeded", "entries", len(entry.SampleEntries(loc)))
			}
		}
		entries = local
	default:
		remote := entryStore.NewDocumentStore(tdb, entryStore.WithPollInterval(cfg.Store.PollInterval))
		defer remote.Close()
		entries = remote
	}

	view := projections.NewAdminView(entries)
	if err := view.Start(ctx); err != nil {
		// The view keeps retrying through its subscription or the next page load.
		logger.Warn("admin_view_start_failed", "error", err)
	}
	defer view.Stop()

	var csrfKey []byte
	if cfg.HTTP.CSRFKey != "" {
		csrfKey, err = hex.DecodeString(cfg.HTTP.CSRFKey)
		if err != nil {
			return fmt.Errorf("http.csrf_key must be hex: %w", err)
		}
	}

	sender := email.NewSender(cfg.Mailer.ResendKey, cfg.Mailer.From)
	var notifications sync.WaitGroup
	notifyDeps := orchestrators.NotifySignupDeps{
		Sender:   sender,
		To:       cfg.Mailer.NotifyTo,
		AdminURL: cfg.HTTP.BaseURL + "/admin",
		Location: loc,
	}
	notify := func(ctx context.Context, e entry.Entry) {
		notifications.Go(func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			if err := orchestrators.ExecuteNotifySignup(ctx, e, notifyDeps); err != nil {
				slog.Warn("notify_event", "event", "signup_notify_failed", "entry_id", e.ID, "error", err)
			}
		})
	}

	handler := web.NewMux(ctx, &web.Stores{
		AccountStore: accountStore.NewSQLiteStore(tdb),
		EntryStore:   entries,
		Markers:      markers,
	}, view, web.Settings{
		CoachName:       cfg.Site.CoachName,
		Location:        loc,
		RateLimitWindow: cfg.Submission.RateLimitWindow,
		SlowRequest:     cfg.HTTP.SlowRequest,
		CSRFKey:         csrfKey,
		TrustedOrigins:  cfg.HTTP.TrustedOrigins,
		Production:      cfg.IsProduction(),
		StoreMode:       cfg.Store.Mode,
		Notify:          notify,
	}, collector)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so event streams close on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("waitlist_started", "version", version, "addr", cfg.HTTP.Address,
			"env", cfg.Env, "store", cfg.Store.Mode, "schema", storage.SchemaVersion)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Warn("waitlist_stopping")
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	notifications.Wait()
	logger.Info("waitlist_stopped")
	return err
}
