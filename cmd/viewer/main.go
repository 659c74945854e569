// Viewer follows the overwatch event stream and maintains a local
// projection of engine state, reconnecting with a fixed backoff and
// one full resync after every drop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	oc "github.com/linnemanlabs/overwatch/internal/cfg"
	"github.com/linnemanlabs/overwatch/internal/reconcile"
)

const appName = "overwatch"
const component = "viewer"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var (
		viewCfg oc.ViewerConfig
		logCfg  log.Config
	)
	viewCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Env vars with prefix OVERWATCH_ fill in flags not set on the
	// command line.
	cfg.FillFromEnv(flag.CommandLine, "OVERWATCH_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		viewCfg.Validate(),
		logCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	wsURL, err := streamURL(viewCfg.ServerURL)
	if err != nil {
		return err
	}
	channels := splitChannels(viewCfg.Channels)

	L.Info(ctx, "initializing viewer",
		"version", vi.Version,
		"server_url", viewCfg.ServerURL,
		"stream_url", wsURL,
		"channels", channels,
		"reconnect_seconds", viewCfg.ReconnectSeconds,
	)

	backoff := reconcile.NewBackoff(time.Duration(viewCfg.ReconnectSeconds) * time.Second)
	transport := reconcile.NewWSTransport(wsURL)
	fetcher := reconcile.NewHTTPFetcher(viewCfg.ServerURL, viewCfg.AuthToken, nil)

	rec := reconcile.New(reconcile.NewView(), transport, fetcher, channels, backoff, L, reconcile.Hooks{})

	err = rec.Run(ctx)
	if errors.Is(err, context.Canceled) {
		L.Info(ctx, "viewer stopped")
		return nil
	}
	return err
}

// streamURL derives the websocket endpoint from the API base URL.
func streamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func splitChannels(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
