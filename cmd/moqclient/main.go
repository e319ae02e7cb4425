// Command moqclient is a thin CLI for publishing or subscribing to a
// single broadcast track, useful for poking at a relay by hand.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/moqlite/moqlite/internal/cache"
	"github.com/moqlite/moqlite/internal/path"
	"github.com/moqlite/moqlite/session"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		url        = flag.String("url", "", "session URL, e.g. https://relay.example/anon")
		mode       = flag.String("mode", "subscribe", "publish or subscribe")
		broadcast  = flag.String("broadcast", "", "broadcast path")
		track      = flag.String("track", "", "track name")
		priority   = flag.Uint("priority", 0, "track priority (0-255, higher is more urgent)")
	)
	flag.Parse()

	if *url == "" || *broadcast == "" || *track == "" {
		fmt.Fprintln(os.Stderr, "usage: moqclient -url <url> -broadcast <path> -track <name> [-mode publish|subscribe]")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	conn, err := session.Connect(ctx, *url, session.DefaultConnectOptions())
	if err != nil {
		slog.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	bpath := path.From(*broadcast)

	switch *mode {
	case "publish":
		if err := runPublish(ctx, conn, bpath, *track, uint8(*priority)); err != nil {
			slog.Error("publish failed", "error", err)
			os.Exit(1)
		}
	case "subscribe":
		if err := runSubscribe(ctx, conn, bpath, *track, uint8(*priority)); err != nil {
			slog.Error("subscribe failed", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q\n", *mode)
		os.Exit(2)
	}
}

// runPublish reads lines from stdin and writes each as a frame in its
// own group, so every line a late-joining subscriber sees is complete.
func runPublish(ctx context.Context, conn *session.Connection, bpath path.Path, trackName string, priority uint8) error {
	bprod, bcons := cache.NewBroadcast()
	if err := conn.Publish(bpath, bcons); err != nil {
		return fmt.Errorf("announce broadcast: %w", err)
	}
	tprod, tcons := cache.NewTrack(trackName, priority)
	bprod.InsertTrack(trackName, tcons)

	slog.Info("publishing", "broadcast", bpath, "track", trackName)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		tprod.AppendGroup()
		if err := tprod.WriteString(scanner.Text()); err != nil {
			return err
		}
	}
	tprod.Close()
	bprod.Close()
	return scanner.Err()
}

// runSubscribe prints every frame received on the track, one per line.
func runSubscribe(ctx context.Context, conn *session.Connection, bpath path.Path, trackName string, priority uint8) error {
	bcons := conn.Consume(bpath)
	tcons, err := bcons.Subscribe(ctx, trackName, priority)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("subscribed", "broadcast", bpath, "track", trackName)
	for {
		s, err := tcons.ReadString(ctx)
		if err != nil {
			return err
		}
		fmt.Println(s)
	}
}
