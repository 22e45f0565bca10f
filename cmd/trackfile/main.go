package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentworkforce/trackfile/internal/baseline"
	"github.com/agentworkforce/trackfile/internal/config"
	"github.com/agentworkforce/trackfile/internal/remote"
	"github.com/agentworkforce/trackfile/internal/tracker"
	"github.com/agentworkforce/trackfile/internal/treesync"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("TRACKFILE_CONFIG")), "config file path")
	docPath := flag.String("doc", strings.TrimSpace(os.Getenv("TRACKFILE_DOC")), "working document path")
	remoteID := flag.String("remote-id", strings.TrimSpace(os.Getenv("TRACKFILE_REMOTE_ID")), "remote root node id")
	baseURL := flag.String("base-url", strings.TrimSpace(os.Getenv("TRACKFILE_BASE_URL")), "tracker base URL (overrides config)")
	token := flag.String("token", strings.TrimSpace(os.Getenv("TRACKFILE_TOKEN")), "bearer token (overrides config)")
	baselineDSN := flag.String("baseline", strings.TrimSpace(os.Getenv("TRACKFILE_BASELINE")), "baseline store DSN (overrides config)")
	pull := flag.Bool("pull", false, "fetch the remote tree and merge before pushing")
	force := flag.String("force", "", "resolve conflicts to a side: local or remote")
	reset := flag.String("reset", "", "adopt a side verbatim as the new baseline: local or remote")
	interval := flag.Duration("interval", 0, "daemon sync interval (overrides config)")
	once := flag.Bool("once", false, "run one sync session and exit")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *docPath == "" {
		logger.Error("doc is required (--doc or TRACKFILE_DOC)")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		return 1
	}
	if *baseURL != "" {
		cfg.Remote.BaseURL = *baseURL
	}
	if *token != "" {
		cfg.Remote.Token = *token
		cfg.Remote.TokenFile = ""
	}
	if *baselineDSN != "" {
		cfg.Baseline.DSN = *baselineDSN
	}
	if *interval > 0 {
		cfg.Sync.Interval = *interval
	}

	override, err := parseOverride(*force, *reset)
	if err != nil {
		logger.Error("bad override flags", "err", err)
		return 1
	}

	bearer, err := cfg.BearerToken()
	if err != nil {
		logger.Error("failed to resolve token", "err", err)
		return 1
	}
	client := remote.NewHTTPClient(remote.HTTPClientOptions{
		BaseURL:    cfg.Remote.BaseURL,
		Token:      bearer,
		MaxRetries: cfg.Remote.MaxRetries,
	})
	store, err := baseline.BuildStoreFromDSN(cfg.Baseline.DSN)
	if err != nil {
		logger.Error("failed to open baseline store", "dsn", cfg.Baseline.DSN, "err", err)
		return 1
	}
	defer store.Close()

	engine := treesync.NewEngine(client, store, logger)
	source := treesync.Source{Path: *docPath, RemoteID: *remoteID}
	opts := treesync.Options{Pull: *pull || cfg.Sync.Pull, Override: override}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := runSession(ctx, engine, source, opts, logger)
	if *once || override.Kind != treesync.OverrideNone {
		return code
	}

	return daemonLoop(ctx, engine, client, source, opts, cfg, logger)
}

// runSession runs one sync session and maps its outcome to an exit code:
// 0 on success, 1 on error, 2 when the session ends conflicted.
func runSession(ctx context.Context, engine *treesync.Engine, source treesync.Source, opts treesync.Options, logger *slog.Logger) int {
	report, err := engine.Open(ctx, source, opts)
	if err != nil {
		logger.Error("sync session failed", "doc", source.Path, "err", err)
		return 1
	}
	if report.Status == treesync.StatusConflicted {
		for _, path := range report.ConflictPaths {
			fmt.Fprintf(os.Stderr, "conflict at %s\n", formatConflictPath(path))
		}
		fmt.Fprintln(os.Stderr, "resolve by editing the document, or rerun with --force/--reset")
		return 2
	}
	return 0
}

// daemonLoop re-runs sessions on a jittered interval and, when configured,
// on document changes and remote change events. Watch failures degrade to
// interval-only operation.
func daemonLoop(ctx context.Context, engine *treesync.Engine, client *remote.HTTPClient, source treesync.Source, opts treesync.Options, cfg *config.Config, logger *slog.Logger) int {
	trigger := make(chan string, 1)

	if cfg.Watch.Document {
		if err := watchDocument(ctx, source.Path, cfg.Watch.Debounce, trigger); err != nil {
			logger.Warn("document watch unavailable, relying on interval", "err", err)
		}
	}
	var events <-chan remote.Event
	if cfg.Watch.Events {
		if rootID := eventRoot(source); rootID != "" {
			ch, err := client.WatchEvents(ctx, rootID)
			if err != nil {
				logger.Warn("event feed unavailable, relying on interval", "err", err)
			} else {
				events = ch
			}
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredInterval(cfg.Sync.Interval, cfg.Sync.Jitter, rng.Float64()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping", "reason", ctx.Err())
			return 0
		case reason := <-trigger:
			logger.Debug("sync triggered", "reason", reason)
			runSession(ctx, engine, source, opts, logger)
			resetTimer(timer, jitteredInterval(cfg.Sync.Interval, cfg.Sync.Jitter, rng.Float64()))
		case event, ok := <-events:
			if !ok {
				logger.Warn("event feed closed, relying on interval")
				events = nil
				continue
			}
			logger.Debug("sync triggered", "reason", "remote event", "node", event.NodeID, "kind", event.Kind)
			runSession(ctx, engine, source, opts, logger)
			resetTimer(timer, jitteredInterval(cfg.Sync.Interval, cfg.Sync.Jitter, rng.Float64()))
		case <-timer.C:
			runSession(ctx, engine, source, opts, logger)
			timer.Reset(jitteredInterval(cfg.Sync.Interval, cfg.Sync.Jitter, rng.Float64()))
		}
	}
}

// watchDocument forwards debounced change notifications for the document to
// trigger. The parent directory is watched, not the file: atomic writes
// replace the file and would drop a direct watch.
func watchDocument(ctx context.Context, docPath string, debounce time.Duration, trigger chan<- string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(docPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(docPath)

	go func() {
		defer watcher.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(debounce)
			case <-watcher.Errors:
			case <-pending:
				pending = nil
				select {
				case trigger <- "document changed":
				default:
				}
			}
		}
	}()
	return nil
}

// eventRoot picks the remote root id to subscribe to: the explicit remote id
// if given, otherwise the document root's linked id.
func eventRoot(source treesync.Source) string {
	if source.RemoteID != "" {
		return source.RemoteID
	}
	root, err := tracker.ReadDocument(source.Path)
	if err != nil {
		return ""
	}
	if id, ok := root.Ref.RemoteID(); ok {
		return id
	}
	return ""
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func parseOverride(force, reset string) (treesync.Override, error) {
	if force != "" && reset != "" {
		return treesync.Override{}, errors.New("only one of --force and --reset may be set")
	}
	kind := treesync.OverrideNone
	value := ""
	switch {
	case force != "":
		kind, value = treesync.OverrideForce, force
	case reset != "":
		kind, value = treesync.OverrideReset, reset
	default:
		return treesync.Override{}, nil
	}
	switch value {
	case "local":
		return treesync.Override{Kind: kind, Prefer: treesync.PreferLocal}, nil
	case "remote":
		return treesync.Override{Kind: kind, Prefer: treesync.PreferRemote}, nil
	default:
		return treesync.Override{}, fmt.Errorf("override side must be local or remote, got %q", value)
	}
}

func formatConflictPath(path []int) string {
	if len(path) == 0 {
		return "root"
	}
	parts := make([]string, len(path))
	for i, index := range path {
		parts[i] = fmt.Sprintf("%d", index)
	}
	return "root/" + strings.Join(parts, "/")
}

// jitteredInterval spreads the next session around base by up to jitter in
// either direction, sample being a uniform draw in [0,1].
func jitteredInterval(base, jitter time.Duration, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if jitter <= 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	delay := base - jitter + time.Duration(float64(2*jitter)*sample)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
