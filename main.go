package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mrexodia/jobsupervisor/config"
	"github.com/mrexodia/jobsupervisor/console"
	"github.com/mrexodia/jobsupervisor/ready"
	"github.com/mrexodia/jobsupervisor/supervisor"
	"github.com/mrexodia/jobsupervisor/webhook"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

// run is separated from main so deferred cleanup runs before os.Exit
func run() int {
	configPath := pflag.StringP("config", "c", "supervisor.yaml", "path to the configuration file")
	count := pflag.IntP("count", "n", config.DefaultChildCount, "number of children to spawn (overrides the config file)")
	redirect := pflag.Bool("redirect", true, "capture child stdout/stderr (overrides the config file)")
	pflag.Parse()

	log := console.New("Supervisor")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if pflag.CommandLine.Changed("count") {
		cfg.Children.Count = count
	}
	if pflag.CommandLine.Changed("redirect") {
		cfg.Children.RedirectOutput = redirect
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	argv, err := cfg.Children.Argv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid child command: %v\n", err)
		return 1
	}
	argv[0] = resolveExecutable(argv[0])

	env, err := cfg.Children.Environ()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build child environment: %v\n", err)
		return 1
	}

	logs := NewLogHub()
	alerts := newAttachAlerts(webhook.NewNotifier(cfg.AttachFailureWebhookURL), log.With("Webhook"))
	defer alerts.Wait()

	sup, err := supervisor.Start(supervisor.Options{
		Argv:            argv,
		Count:           cfg.Children.ChildCount(),
		RedirectOutput:  cfg.Children.IsRedirected(),
		HideWindow:      cfg.Children.IsHidden(),
		Dir:             cfg.Children.Workdir,
		Env:             env,
		Lines:           logs,
		OnAttachFailure: alerts.Notify,
		Logger:          log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start children: %v\n", err)
		return 1
	}
	defer sup.Close()

	server := NewServer(cfg, sup, logs, log.With("Server"))
	if err := server.Listen(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Serve(); err != nil {
			serverErrChan <- err
		}
	}()

	if err := ready.Signal(cfg.ReadyName); err != nil {
		log.Errorf("Failed to signal readiness as %q: %v", cfg.ReadyName, err)
	}

	if cfg.StatusReportEnabled() {
		reporter, err := NewStatusReporter(cfg.StatusSchedule, sup, log.With("Status"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid status_schedule: %v\n", err)
			return 1
		}
		reporter.Start()
		defer reporter.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigChan:
		fmt.Println("\nShutting down...")
	case err := <-serverErrChan:
		fmt.Fprintf(os.Stderr, "Web server error: %v\n", err)
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Web server shutdown: %v", err)
	}
	return exitCode
}

// resolveExecutable finds a bare command name on PATH, then next to this
// executable, so the default "sleeper" works from a release directory.
func resolveExecutable(name string) string {
	if strings.ContainsAny(name, `/\`) {
		return name
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}

	self, err := os.Executable()
	if err != nil {
		return name
	}
	candidate := filepath.Join(filepath.Dir(self), name)
	if runtime.GOOS == "windows" && filepath.Ext(candidate) == "" {
		candidate += ".exe"
	}
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return name
}

// attachAlerts posts attach failures to the webhook without blocking the
// spawn loop
type attachAlerts struct {
	notifier *webhook.Notifier
	log      *console.Logger
	host     string
	wg       sync.WaitGroup
}

func newAttachAlerts(notifier *webhook.Notifier, log *console.Logger) *attachAlerts {
	host, _ := os.Hostname()
	return &attachAlerts{notifier: notifier, log: log, host: host}
}

// Notify matches supervisor.AttachFailureFunc
func (a *attachAlerts) Notify(child int, pid int, err error) {
	if !a.notifier.Enabled() {
		return
	}

	payload := webhook.AttachFailurePayload{
		Supervisor:   a.host,
		ChildIndex:   child,
		PID:          pid,
		Timestamp:    time.Now(),
		ErrorMessage: err.Error(),
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.notifier.NotifyAttachFailure(context.Background(), payload); err != nil {
			a.log.Errorf("Failed to send webhook for child %d: %v", child, err)
		} else {
			a.log.Printf("Webhook sent for child %d (PID: %d)", child, pid)
		}
	}()
}

// Wait blocks until pending webhooks finish
func (a *attachAlerts) Wait() {
	a.wg.Wait()
}
