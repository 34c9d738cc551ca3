// ABOUTME: In-process simulation harness for exercising the supervisor end to end
// ABOUTME: Runs built-in agents against a burst of generated tasks and prints the outcome

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389/warden/internal/agent"
	"github.com/2389/warden/internal/config"
	"github.com/2389/warden/internal/registry"
	"github.com/2389/warden/internal/supervisor"
	"github.com/2389/warden/internal/task"
)

func main() {
	taskCount := flag.Int("tasks", 20, "Number of tasks to enqueue")
	duration := flag.Duration("duration", 10*time.Second, "How long to run before shutting down")
	pauseAfter := flag.Duration("pause-after", 3*time.Second, "When to pause the first text agent (0 disables)")
	logLevel := flag.String("log-level", "info", "Log level (debug/info/warn/error)")
	flag.Parse()

	if err := run(*taskCount, *duration, *pauseAfter, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(taskCount int, duration, pauseAfter time.Duration, logLevel string) error {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.SupervisorConfig{
		HealthCheckInterval: time.Second,
		IdleInterval:        100 * time.Millisecond,
		DequeueWait:         100 * time.Millisecond,
		ExecutionTimeout:    5 * time.Second,
		ShutdownTimeout:     5 * time.Second,
	}

	queue := task.NewQueue()
	sup := supervisor.New(cfg, queue, logger)

	roster := []struct {
		id   string
		kind string
		caps []string
	}{
		{"echo-1", agent.KindEcho, []string{"text"}},
		{"echo-2", agent.KindEcho, []string{"text"}},
		{"sleeper-1", agent.KindSleeper, []string{"video"}},
		{"flaky-1", agent.KindFlaky, []string{"audio"}},
	}
	for _, entry := range roster {
		exec, err := agent.NewBuiltin(entry.kind)
		if err != nil {
			return err
		}
		err = sup.Register(registry.RegistrationSpec{
			ID:           entry.id,
			DisplayName:  entry.id,
			Capabilities: entry.caps,
			Enabled:      true,
		}, exec)
		if err != nil {
			return err
		}
	}

	if err := sup.Start(ctx); err != nil {
		return err
	}

	// Spread tasks across the three capabilities.
	capabilities := []string{"text", "video", "audio"}
	for i := 0; i < taskCount; i++ {
		payload, _ := json.Marshal(map[string]any{"n": i})
		t := &task.Task{
			RequiredCapability: capabilities[i%len(capabilities)],
			Payload:            payload,
		}
		if err := queue.Enqueue(t); err != nil {
			return err
		}
	}
	logger.Info("tasks enqueued", "count", taskCount)

	if pauseAfter > 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pauseAfter):
			}
			if err := sup.Pause("echo-1", "sim"); err != nil {
				logger.Warn("pause failed", "error", err)
				return
			}
			logger.Info("paused echo-1; text tasks shift to echo-2")
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("interrupted")
	case <-time.After(duration):
	}

	queue.Close()
	report := sup.Shutdown(cfg.ShutdownTimeout)

	fmt.Println()
	fmt.Println("=== simulation report ===")
	for _, snap := range sup.StatusAll() {
		fmt.Printf("%-10s state=%-9s tasks=%-3d errors=%-3d last_error=%q\n",
			snap.ID, snap.State, snap.TaskCount, snap.ErrorCount, snap.LastError)
	}
	stats := sup.Stats()
	fmt.Printf("total: %d tasks, %d errors, queue depth %d\n",
		stats.TasksExecuted, stats.ErrorsRecorded, stats.QueueDepth)
	fmt.Printf("shutdown: %d stopped, %d stragglers in %s\n",
		len(report.Stopped), len(report.Stragglers), report.Elapsed.Round(time.Millisecond))
	return nil
}
