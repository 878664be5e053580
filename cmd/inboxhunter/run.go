package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/inboxhunter/inboxhunter/internal/locator"
	"github.com/inboxhunter/inboxhunter/internal/service"
	"github.com/inboxhunter/inboxhunter/internal/settings"

	"github.com/spf13/cobra"
)

var (
	flagDebug    bool
	flagHeadless bool
	flagAll      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run starts the worker with the saved settings and streams its output",
	Args:  cobra.NoArgs,
	RunE:  doRun,
}

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "locate prints the worker which run would start",
	Args:  cobra.NoArgs,
	RunE:  doLocate,
}

func init() {
	runCmd.Flags().BoolVar(&flagDebug, "debug", false, "run the worker in debug mode")
	runCmd.Flags().BoolVar(&flagHeadless, "headless", false, "run the browser without a window")
	locateCmd.Flags().BoolVar(&flagAll, "all", false, "print every searched location")
}

func newLocator() (*locator.Locator, error) {
	return locator.New(locator.Config{
		ResourceDir: config.ResourceDir,
		Mode:        config.InstallMode,
	})
}

func doRun(cmd *cobra.Command, _ []string) error {
	cfg, err := settings.Load(settings.Path(dataDir))
	if err != nil {
		return err
	}
	if cfg == nil {
		return errors.New("no settings saved yet, use `inboxhunter settings import <file>` first")
	}
	if flagDebug {
		cfg.Settings.Debug = true
	}
	if flagHeadless {
		cfg.Settings.Headless = true
	}

	loc, err := newLocator()
	if err != nil {
		return err
	}
	supervisor := service.NewSupervisor(service.Config{
		DataDir:      dataDir,
		Version:      version(),
		StopTimeout:  config.Stop.TimeoutDuration(),
		PollInterval: config.Stop.PollIntervalDuration(),
		KillGrace:    config.Stop.KillGraceDuration(),
	}, loc)

	events, cancel := supervisor.Subscribe(1024)
	defer cancel()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := supervisor.Start(ctx, *cfg); err != nil {
		var re *locator.ResolutionError
		if errors.As(err, &re) && len(re.Searched) > 0 {
			slog.DebugContext(ctx, "worker not found", "searched", re.Searched)
		}
		return err
	}

	// a stopped event dropped for a full buffer must not hang the loop
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "stopping worker")
			return supervisor.Stop(context.WithoutCancel(ctx))
		case ev := <-events:
			if ev.Kind == service.EventStopped {
				return stoppedErr(ev)
			}
			printEvent(ev)
		case <-ticker.C:
			if !supervisor.Running() {
				drain(events)
				return nil
			}
		}
	}
}

func drain(events <-chan service.Event) {
	for {
		select {
		case ev := <-events:
			if ev.Kind == service.EventLog {
				printEvent(ev)
			}
		default:
			return
		}
	}
}

func printEvent(ev service.Event) {
	fmt.Printf("%-7s %s\n", ev.Level, ev.Message)
}

func stoppedErr(ev service.Event) error {
	if ev.ExitCode == 0 {
		return nil
	}
	if ev.Err != nil {
		return fmt.Errorf("worker exited with code %d: %w", ev.ExitCode, ev.Err)
	}
	return fmt.Errorf("worker exited with code %d", ev.ExitCode)
}

func doLocate(cmd *cobra.Command, _ []string) error {
	loc, err := newLocator()
	if err != nil {
		return err
	}
	fmt.Printf("mode:    %s\n", loc.Mode())
	if flagAll {
		c := loc.Candidates()
		fmt.Printf("sidecar: %s\n", strings.Join(c.Sidecar, "\n         "))
		fmt.Printf("scripts: %s\n", strings.Join(c.Scripts, "\n         "))
	}

	spec, err := loc.Resolve(cmd.Context())
	if err != nil {
		var re *locator.ResolutionError
		if errors.As(err, &re) {
			fmt.Printf("error:   %s\n", re.Reason)
			if re.Remediation != "" {
				fmt.Printf("fix:     %s\n", re.Remediation)
			}
		}
		return err
	}
	fmt.Printf("worker:  %s\n", spec)
	fmt.Printf("dir:     %s\n", spec.WorkingDir)
	fmt.Printf("script:  %t\n", spec.ScriptMode)
	return nil
}
