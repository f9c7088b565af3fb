package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Scrimzay/rtsim/internal/client"
	"github.com/Scrimzay/rtsim/internal/config"
	"github.com/Scrimzay/rtsim/internal/journal"
	"github.com/Scrimzay/rtsim/internal/server"
	"github.com/Scrimzay/rtsim/internal/types"
	"github.com/Scrimzay/rtsim/internal/world"
	"github.com/google/uuid"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "watch":
		err = watch(ctx, cfg, logger, args)
	case "verify":
		err = verify(cfg, logger, args)
	default:
		err = fmt.Errorf("unknown command %q (serve, watch, verify)", cmd)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error(cmd+" failed", "err", err)
		os.Exit(1)
	}
}

func openJournal(cfg config.Config, logger *slog.Logger) (*journal.Journal, error) {
	if cfg.Journal.Dir == "" {
		return journal.OpenMem(logger)
	}
	dir := filepath.Join(cfg.Journal.Dir, uuid.NewString())
	logger.Info("journal session", "dir", dir)
	return journal.Open(dir, logger)
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("=== STARTING RTSIM ===")

	layout, err := cfg.Sim.LoadLayout()
	if err != nil {
		return err
	}
	w, err := world.New(layout, cfg.Sim.WorldOptions(logger))
	if err != nil {
		return err
	}
	logger.Info("world created", "layout", layout.Name, "size", layout.Size, "players", len(layout.Players))

	j, err := openJournal(cfg, logger)
	if err != nil {
		return err
	}
	defer j.Close()
	if err := j.PutLayout(layout); err != nil {
		return err
	}

	hub := server.NewHub(w, server.HubOptions{
		TickInterval:  cfg.Sim.TickInterval(),
		KeyframeEvery: cfg.Journal.KeyframeEvery,
		IntentRate:    cfg.Server.IntentRate,
		IntentBurst:   cfg.Server.IntentBurst,
		Journal:       j,
		Logger:        logger,
	})
	go hub.Run(ctx)

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: server.SetupRouter(hub)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if st, err := j.Stats(); err == nil {
		logger.Info("session closed", "tick", w.CurrentTick(), "intents", st.Intents, "keyframes", st.Keyframes)
	}
	return nil
}

// watch runs a headless client that follows the session and logs what happens.
func watch(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	url := fs.String("url", cfg.Client.URL, "hub websocket url")
	player := fs.String("player", cfg.Client.Player, "player to bind to, empty to spectate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := client.New(client.Options{
		URL:              *url,
		Player:           types.PlayerID(*player),
		HandshakeTimeout: cfg.Client.Handshake(),
		MinBackoff:       cfg.Client.MinBackoff(),
		MaxBackoff:       cfg.Client.MaxBackoff(),
		Tolerance:        cfg.Sim.Tolerance,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	go c.Run(ctx)

	ticker := time.NewTicker(cfg.Sim.TickInterval())
	defer ticker.Stop()
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for _, e := range c.Step() {
			logger.Info("event", "kind", e.Kind, "tick", e.Tick, "entity", e.Entity, "player", e.Player)
		}
		rec := c.Reconciler()
		if rec == nil || n%50 != 0 {
			continue
		}
		st := rec.World().Status()
		logger.Info("status", "tick", st.Tick, "units", st.Units, "buildings", st.Buildings,
			"pending", len(rec.Pending()), "snapped", rec.Stats().Snapped)
		if st.GameOver {
			logger.Info("=== GAME OVER ===", "winner", st.Winner)
			return nil
		}
	}
}

// verify replays a journal session and checks every keyframe digest.
func verify(cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	dir := fs.String("dir", "", "journal session directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("verify needs -dir")
	}
	j, err := journal.Open(*dir, logger)
	if err != nil {
		return err
	}
	defer j.Close()
	return j.Verify(cfg.Sim.WorldOptions(logger))
}
