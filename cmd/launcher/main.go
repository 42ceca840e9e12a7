// Command launcher starts the supervisor service inside a process group of
// its own, waits for it to report readiness and greets it once. Exiting the
// launcher takes the service down, and the service takes its workers down.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/mrexodia/jobsupervisor/config"
	"github.com/mrexodia/jobsupervisor/console"
	"github.com/mrexodia/jobsupervisor/jobgroup"
	"github.com/mrexodia/jobsupervisor/ready"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	servicePath := pflag.String("service", defaultServicePath(), "path to the supervisor service executable")
	configPath := pflag.StringP("config", "c", "supervisor.yaml", "configuration file passed to the service")
	timeout := pflag.Duration("timeout", 5*time.Second, "how long to wait for the service to become ready")
	name := pflag.String("name", "World", "name to greet the service with")
	pflag.Parse()

	log := console.New("Launcher")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	group, err := jobgroup.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create process group: %v\n", err)
		return 1
	}
	defer group.Close()

	// Created before the service starts so its signal cannot be missed
	waiter, err := ready.NewWaiter(cfg.ReadyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create readiness waiter: %v\n", err)
		return 1
	}
	defer waiter.Close()

	cmd := exec.Command(*servicePath, "--config", *configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	jobgroup.Prepare(cmd)

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start service: %v\n", err)
		return 1
	}
	go cmd.Wait()

	if err := group.Add(cmd.Process); err != nil {
		log.Errorf("Service (PID: %d) is running outside the process group: %v", cmd.Process.Pid, err)
	} else {
		log.Printf("Started service (PID: %d)", cmd.Process.Pid)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	err = waiter.Wait(ctx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Println("Server is not running...")
		} else {
			fmt.Fprintf(os.Stderr, "Waiting for service: %v\n", err)
		}
		return 1
	}

	reply, elapsed, err := timedGreet(cfg, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Greeting failed: %v\n", err)
		return 1
	}
	fmt.Printf("Greeter received: %s\n", reply)
	fmt.Printf("Elapsed: %v\n", elapsed)

	fmt.Println("Press Enter to exit...")
	waitForExit()
	return 0
}

// timedGreet greets the service and reports how long the call alone took
func timedGreet(cfg config.Config, name string) (string, time.Duration, error) {
	start := time.Now()
	reply, err := greet(cfg, name)
	return reply, time.Since(start), err
}

// greet calls the service's hello endpoint and returns its message
func greet(cfg config.Config, name string) (string, error) {
	u := url.URL{
		Scheme:   "http",
		Host:     cfg.Address(),
		Path:     "/api/hello",
		RawQuery: url.Values{"name": {name}}.Encode(),
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	if cfg.Authorization != "" {
		user, pass := splitAuthorization(cfg.Authorization)
		req.SetBasicAuth(user, pass)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("service returned status %d", resp.StatusCode)
	}

	var reply struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	return reply.Message, nil
}

// splitAuthorization parses "username:password"; a bare value is the password
func splitAuthorization(auth string) (string, string) {
	if idx := strings.Index(auth, ":"); idx > 0 {
		return auth[:idx], auth[idx+1:]
	}
	return "", auth
}

// waitForExit returns on Enter, end of input or an interrupt
func waitForExit() {
	done := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(done)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-done:
	case <-sigChan:
	}
}

// defaultServicePath looks for the service binary next to the launcher
func defaultServicePath() string {
	name := "jobsupervisor"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	self, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(self), name)
}
