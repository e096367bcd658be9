package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/vestige/internal/clip"
	"go.klb.dev/vestige/internal/govern"
	"go.klb.dev/vestige/internal/ipc"
	"go.klb.dev/vestige/internal/kv"
	"go.klb.dev/vestige/internal/logging"
	"go.klb.dev/vestige/internal/persist"
	"go.klb.dev/vestige/internal/resource"
	"go.klb.dev/vestige/internal/service"
	"go.klb.dev/vestige/internal/store"
	"go.klb.dev/vestige/internal/watch"
)

func newDaemonCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the clipboard history daemon",
		Long: `Starts the vestige daemon: watches the system clipboard, keeps the
bounded deduplicated history, and serves the CLI tools over a local socket.

History and settings persist under --state-dir and survive restarts. The
capacity, thumbnail, and text-policy flags override the persisted settings
when given; 0 keeps whatever is persisted.

The socket path honours $VESTIGE_SOCKET, then $XDG_RUNTIME_DIR/vestige.sock.

Config file search order:
  /etc/vestige/vestige.toml
  <user config dir>/vestige/vestige.toml   (~/.config/vestige on Linux)
  path supplied via --config

Precedence (lowest → highest): defaults → config file → VESTIGE_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runDaemon(v) },
	}

	f := cmd.Flags()
	f.String("state-dir", defaultStateDir(), "directory for the history database and image blobs")
	f.Int("capacity", 0, "history capacity (0 = persisted setting, initially 20)")
	f.Int("thumb-max-dim", 0, "thumbnail edge bound in pixels (0 = persisted setting, initially 256)")
	f.Int("truncate-limit", 0, "text truncation limit in bytes (0 = persisted setting, initially 20480)")
	f.Int("compress-threshold", 0, "text compression threshold in bytes (0 = persisted setting, initially 4096)")
	f.String("warn-threshold", "64 MiB", "heap size that starts a cleanup cycle")
	f.String("crit-threshold", "128 MiB", "heap size that starts an aggressive cleanup")
	f.Duration("govern-interval", govern.DefaultInterval, "heap sampling interval")
	f.Duration("govern-cooldown", govern.DefaultCooldown, "minimum gap between non-aggressive cleanups")
	f.Duration("poll-interval", watch.DefaultBaseInterval, "base clipboard poll interval")
	f.Duration("poll-max-interval", watch.DefaultMaxInterval, "poll interval cap reached after idle stretches")
	f.Bool("no-background", false, "run interactively: tinted logs + debug level")
	f.String("log-format", "auto", "log format: auto|text|json")
	f.String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
	addConfigFlag(cmd)

	return cmd
}

func runDaemon(v *viper.Viper) error {
	logging.Init(v.GetBool("no-background"), v.GetString("log-format"), v.GetString("log-level"))

	warnBytes, err := humanize.ParseBytes(v.GetString("warn-threshold"))
	if err != nil {
		return fmt.Errorf("warn-threshold: %w", err)
	}
	critBytes, err := humanize.ParseBytes(v.GetString("crit-threshold"))
	if err != nil {
		return fmt.Errorf("crit-threshold: %w", err)
	}

	if ipc.IsRunning() {
		return fmt.Errorf("another daemon is already listening on %s", ipc.SocketPath())
	}

	stateDir := v.GetString("state-dir")
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("state dir %s: %w", stateDir, err)
	}

	kvs, err := kv.Open(filepath.Join(stateDir, "vestige.db"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer kvs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := overrideSettings(persist.LoadSettings(ctx, kvs), v)
	if err := persist.SaveSettings(ctx, kvs, settings); err != nil {
		slog.Warn("settings save failed", "err", err)
	}

	res, err := resource.New(filepath.Join(stateDir, "blobs"), settings.ThumbMaxDim)
	if err != nil {
		return fmt.Errorf("blob directory: %w", err)
	}

	st := store.New(settings.Capacity, res, settings.Policy())
	if restored := st.Restore(persist.LoadHistory(ctx, kvs)); restored > 0 {
		slog.Info("history restored", "entries", restored)
	}
	st.SetPersister(persist.NewAdapter(kvs))

	backend := clip.New()
	defer backend.Close()

	detector := watch.New(backend, st,
		watch.WithIntervals(v.GetDuration("poll-interval"), v.GetDuration("poll-max-interval")))
	governor := govern.New(st, res,
		govern.WithThresholds(warnBytes, critBytes),
		govern.WithInterval(v.GetDuration("govern-interval")),
		govern.WithCooldown(v.GetDuration("govern-cooldown")))

	svc := service.New(st, backend, res,
		service.WithVersion(Version),
		service.WithSocketPath(ipc.SocketPath()),
		service.WithGovernor(governor),
		service.WithDetector(detector),
		service.WithSaveLimit(func(n int) {
			if err := persist.SaveCapacity(context.Background(), kvs, n); err != nil {
				slog.Warn("capacity save failed", "err", err)
			}
		}))
	st.AddSink(svc)

	ln, err := ipc.Listen()
	if err != nil {
		return fmt.Errorf("ipc listen: %w", err)
	}

	slog.Info("vestige daemon running",
		"version", Version,
		"socket", ipc.SocketPath(),
		"state_dir", stateDir,
		"capacity", settings.Capacity,
		"backend", backend.Name(),
	)

	go svc.Serve(ln)
	go detector.Run(ctx)
	go governor.Run(ctx)

	<-ctx.Done()
	slog.Info("shutting down")

	ln.Close()
	st.Stop()
	return nil
}

// overrideSettings applies explicitly-configured knobs over the persisted
// settings. Zero means "keep the persisted value".
func overrideSettings(s persist.Settings, v *viper.Viper) persist.Settings {
	if n := v.GetInt("capacity"); n > 0 {
		s.Capacity = n
	}
	if n := v.GetInt("thumb-max-dim"); n > 0 {
		s.ThumbMaxDim = n
	}
	if n := v.GetInt("truncate-limit"); n > 0 {
		s.TruncateLimit = n
	}
	if n := v.GetInt("compress-threshold"); n > 0 {
		s.CompressThreshold = n
	}
	return s.Clamp()
}

// defaultStateDir follows XDG: $XDG_DATA_HOME/vestige, falling back to
// ~/.local/share/vestige.
func defaultStateDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "vestige")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vestige")
	}
	return filepath.Join(home, ".local", "share", "vestige")
}
