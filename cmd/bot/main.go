package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"mangadexbot/internal/app"
	"mangadexbot/internal/config"
	"mangadexbot/pkg/systemd"
)

func main() {
	opts, err := config.Parse(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			os.Exit(0)
		}
		// go-flags already printed its own parse errors.
		var fe *flags.Error
		if !errors.As(err, &fe) {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bot, err := app.NewApp(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := bot.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = bot.Stop(stopCtx, app.StopFatalError)
		stopCancel()
		os.Exit(1)
	}

	_, _ = systemd.Ready()
	_, _ = systemd.Status("tracking manga updates")
	go func() {
		if err := systemd.Watchdog(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "systemd watchdog:", err)
		}
	}()

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-bot.Done():
		reason = app.StopFatalError
	}
	_, _ = systemd.Stopping()
	_, _ = systemd.Status("draining notifications")

	// Leave room after the notification drain for storage and log shutdown.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), opts.DrainTimeout+15*time.Second)
	defer stopCancel()
	if err := bot.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stopped with error:", err)
		stopCancel()
		os.Exit(1)
	}
}
