package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipd/internal/broker"
	"go.klb.dev/clipd/internal/clip"
	"go.klb.dev/clipd/internal/crypto"
	"go.klb.dev/clipd/internal/engine"
	"go.klb.dev/clipd/internal/expiry"
	"go.klb.dev/clipd/internal/history"
	"go.klb.dev/clipd/internal/ipc"
	"go.klb.dev/clipd/internal/message"
	"go.klb.dev/clipd/internal/server"
	"go.klb.dev/clipd/internal/storage"
)

func newDaemonCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the clipboard history daemon",
		Long: `Starts the clipd daemon: it claims the system selection on every copy,
captures entries set by other applications, and serves the history over the
control socket.

Storage is selected with --storage: "memory" for a volatile history, or a
file path for a durable sqlite history that survives restarts (the default).

Entries expire per --default-expiry ("never", "session", or a duration such
as "24h"). Session-scoped entries are evicted when the daemon receives the
--session-signal (default SIGHUP) — wire it to your session manager's
logout hook.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runDaemon(v) },
	}

	f := cmd.Flags()
	f.String("socket", ipc.SocketPath(), "control socket path")
	f.String("addr", "", "also serve the control channel on this TCP address")
	f.String("token", "", "shared secret encrypting the TCP channel (empty = plaintext)")
	f.String("storage", defaultStorePath(), `history storage: "memory" or a database path`)
	f.Int("max-entries", 100, "per-group history capacity (0 = unlimited)")
	f.String("default-expiry", "never", `expiry for entries that name none: "never", "session", or a duration`)
	f.Bool("capture", true, "capture entries copied by other applications")
	f.String("capture-group", history.DefaultGroup, "group captured foreign entries land in")
	f.Duration("read-timeout", 2*time.Second, "bound on reading a foreign owner's content")
	f.String("session-signal", "hup", "session-end signal: hup|usr1|usr2|none")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func defaultStorePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "clipd.db"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "clipd", "history.db")
}

func runDaemon(v *viper.Viper) error {
	setupLogging(v)
	for {
		restart, err := runOnce(v)
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}
		slog.Info("daemon restarting")
	}
}

func runOnce(v *viper.Viper) (restart bool, err error) {
	defaultExpiry, err := history.ParseExpiry(v.GetString("default-expiry"))
	if err != nil {
		return false, err
	}

	backend, err := openBackend(v.GetString("storage"), v.GetInt("max-entries"))
	if err != nil {
		return false, err
	}
	defer backend.Close()

	store, err := history.NewStore(backend)
	if err != nil {
		return false, fmt.Errorf("open history: %w", err)
	}

	sel := clip.New()
	defer sel.Close()

	sched := expiry.New()
	eng := engine.New(store, broker.New(sel), sched, engine.Config{
		DefaultExpiry:  defaultExpiry,
		CaptureGroup:   v.GetString("capture-group"),
		CaptureForeign: v.GetBool("capture"),
		ReadTimeout:    v.GetDuration("read-timeout"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	go eng.Run(ctx)

	// Session-end and termination signals. Termination goes through the
	// engine's stop path so ownership is released and storage flushed.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sessionSig := sessionSignal(v.GetString("session-signal"))
	if sessionSig != 0 {
		signal.Notify(sigCh, sessionSig)
	}
	defer close(sigCh) // unblocks the forwarder on restart
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			if sig == sessionSig {
				slog.Info("session end signalled, evicting session entries")
				sched.SessionEnd()
				continue
			}
			slog.Info("terminating on signal", "signal", sig)
			eng.Do(&message.Request{Kind: message.KindStop, Source: "signal"})
			return
		}
	}()

	srv := server.New(eng)

	socket := v.GetString("socket")
	ln, err := ipc.Listen(socket)
	if err != nil {
		return false, fmt.Errorf("listen %s: %w", socket, err)
	}
	slog.Info("control socket listening", "path", socket)
	go srv.Serve(ln, nil)

	if addr := v.GetString("addr"); addr != "" {
		var key *[32]byte
		if token := v.GetString("token"); token != "" {
			key, err = crypto.DeriveKey(token)
			if err != nil {
				return false, fmt.Errorf("key derivation: %w", err)
			}
		}
		tln, err := net.Listen("tcp", addr)
		if err != nil {
			return false, fmt.Errorf("listen %s: %w", addr, err)
		}
		slog.Info("tcp control channel listening", "addr", tln.Addr(), "encrypted", key != nil)
		go srv.Serve(tln, key)
	}

	slog.Info("daemon running",
		"version", Version,
		"clipboard", sel.Name(),
		"storage", v.GetString("storage"),
		"default_expiry", defaultExpiry.String(),
	)

	<-eng.Done()
	srv.Shutdown()
	_ = os.Remove(socket)
	slog.Info("daemon stopped")
	return eng.ShouldRestart(), nil
}

func openBackend(storageSpec string, maxEntries int) (history.Backend, error) {
	if storageSpec == "memory" {
		return storage.NewMemory(maxEntries), nil
	}
	if err := os.MkdirAll(filepath.Dir(storageSpec), 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	return storage.OpenSQLite(storageSpec, maxEntries)
}
