// ABOUTME: Admin CLI for warden status and agent control
// ABOUTME: Displays agents, stats, and audit trail; sends pause/resume/restart

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// AgentSnapshot mirrors the /api/agents response.
type AgentSnapshot struct {
	ID                    string   `json:"id"`
	DisplayName           string   `json:"display_name"`
	Capabilities          []string `json:"capabilities"`
	State                 string   `json:"state"`
	Enabled               bool     `json:"enabled"`
	SecondsSinceHeartbeat float64  `json:"seconds_since_heartbeat"`
	CurrentTaskID         string   `json:"current_task_id"`
	TaskCount             uint64   `json:"task_count"`
	ErrorCount            uint64   `json:"error_count"`
	LastError             string   `json:"last_error"`
}

// Stats mirrors the /api/stats response.
type Stats struct {
	ActiveAgents       int           `json:"active_agents"`
	TotalAgents        int           `json:"total_agents"`
	Uptime             time.Duration `json:"uptime_ns"`
	QueueDepth         int           `json:"queue_depth"`
	TasksExecuted      uint64        `json:"tasks_executed"`
	ErrorsRecorded     uint64        `json:"errors_recorded"`
	ShutdownInProgress bool          `json:"shutdown_in_progress"`
}

// AuditEvent mirrors one /api/audit entry.
type AuditEvent struct {
	AgentID   string `json:"agent_id"`
	Kind      string `json:"kind"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	TaskID    string `json:"task_id"`
	Error     string `json:"error"`
	Actor     string `json:"actor"`
	Timestamp string `json:"timestamp"`
}

const banner = `
                        _                         _           _
__      ____ _ _ __ __| | ___ _ __         __ _  __| |_ __ ___ (_)_ __
\ \ /\ / / _' | '__/ _' |/ _ \ '_ \ _____ / _' |/ _' | '_ ' _ \| | '_ \
 \ V  V / (_| | | | (_| |  __/ | | |_____| (_| | (_| | | | | | | | | | |
  \_/\_/ \__,_|_|  \__,_|\___|_| |_|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	supervisorURL := flag.String("url", getEnv("WARDEN_URL", "http://localhost:8080"), "Warden HTTP URL")
	token := flag.String("token", os.Getenv("WARDEN_TOKEN"), "Bearer token for the control API")
	watch := flag.Bool("watch", false, "Continuously watch supervisor status")
	interval := flag.Duration("interval", 2*time.Second, "Watch interval (with -watch)")
	flag.Parse()

	c := &client{baseURL: strings.TrimSuffix(*supervisorURL, "/"), token: *token}

	args := flag.Args()
	if len(args) == 0 {
		if *watch {
			runWatch(c, *interval)
			return
		}
		printStatus(c)
		return
	}

	var err error
	switch args[0] {
	case "status":
		printStatus(c)
	case "pause", "resume", "restart":
		err = runControl(c, args)
	case "enqueue":
		err = runEnqueue(c, args)
	case "audit":
		err = printAudit(c, args)
	case "shutdown":
		err = runShutdown(c)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Commands: status, pause <id>, resume <id>, restart <id>, enqueue <capability>, audit [agent-id], shutdown")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// client issues authenticated requests against the control API.
type client struct {
	baseURL string
	token   string
}

func (c *client) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

func (c *client) getJSON(path string, v any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func printStatus(c *client) {
	fmt.Print(banner)

	printHealth(c)
	fmt.Println()
	printStats(c)
	fmt.Println()
	printAgents(c)
	fmt.Println()
}

func runWatch(c *client, interval time.Duration) {
	// Clear screen and hide cursor
	fmt.Print("\033[2J\033[H\033[?25l")
	defer fmt.Print("\033[?25h") // Show cursor on exit

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// Move cursor to top
		fmt.Print("\033[H")
		printStatus(c)
		fmt.Printf("  [watching every %v - press Ctrl+C to stop]\n", interval)

		<-ticker.C
	}
}

func printHealth(c *client) {
	fmt.Println("  Health")
	fmt.Println("  ------")

	resp, err := c.do(http.MethodGet, "/health", nil)
	if err != nil {
		fmt.Printf("  Warden:  UNREACHABLE (%v)\n", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Printf("  Warden:  OK\n")
	} else {
		fmt.Printf("  Warden:  ERROR (status %d)\n", resp.StatusCode)
	}

	resp, err = c.do(http.MethodGet, "/health/ready", nil)
	if err != nil {
		fmt.Printf("  Ready:   UNKNOWN\n")
		return
	}
	defer resp.Body.Close()

	var body [256]byte
	n, _ := resp.Body.Read(body[:])
	status := strings.TrimSpace(string(body[:n]))

	if resp.StatusCode == http.StatusOK {
		fmt.Printf("  Ready:   %s\n", status)
	} else {
		fmt.Printf("  Ready:   NOT READY (%s)\n", status)
	}
}

func printStats(c *client) {
	fmt.Println("  Stats")
	fmt.Println("  -----")

	var stats Stats
	if err := c.getJSON("/api/stats", &stats); err != nil {
		fmt.Printf("  Error: %v\n", err)
		return
	}

	fmt.Printf("  Agents:   %d active / %d total\n", stats.ActiveAgents, stats.TotalAgents)
	fmt.Printf("  Tasks:    %d executed, %d errors\n", stats.TasksExecuted, stats.ErrorsRecorded)
	fmt.Printf("  Queue:    %d waiting\n", stats.QueueDepth)
	fmt.Printf("  Uptime:   %s\n", stats.Uptime.Round(time.Second))
	if stats.ShutdownInProgress {
		fmt.Println("  Shutdown: IN PROGRESS")
	}
}

func printAgents(c *client) {
	fmt.Println("  Agents")
	fmt.Println("  ------")

	var agents []AgentSnapshot
	if err := c.getJSON("/api/agents", &agents); err != nil {
		fmt.Printf("  Error: %v\n", err)
		return
	}

	if len(agents) == 0 {
		fmt.Println("  (no agents registered)")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tSTATE\tCAPABILITIES\tTASKS\tERRORS\tHEARTBEAT\tLAST ERROR")
	fmt.Fprintln(w, "  --\t-----\t------------\t-----\t------\t---------\t----------")
	for _, a := range agents {
		caps := strings.Join(a.Capabilities, ", ")
		id := a.ID
		if len(id) > 24 {
			id = id[:21] + "..."
		}
		lastErr := a.LastError
		if len(lastErr) > 32 {
			lastErr = lastErr[:29] + "..."
		}
		state := a.State
		if !a.Enabled {
			state += " (disabled)"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%d\t%.1fs\t%s\n",
			id, state, caps, a.TaskCount, a.ErrorCount, a.SecondsSinceHeartbeat, lastErr)
	}
	w.Flush()
}

func runControl(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: warden-admin %s <agent-id>", args[0])
	}
	op, id := args[0], args[1]

	resp, err := c.do(http.MethodPost, fmt.Sprintf("/api/agents/%s/%s", id, op), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	fmt.Printf("%s accepted for %s (applied at the agent's next loop iteration)\n", op, id)
	return nil
}

func runEnqueue(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: warden-admin enqueue <capability> [payload-json]")
	}

	req := map[string]any{"required_capability": args[1]}
	if len(args) > 2 {
		req["payload"] = json.RawMessage(args[2])
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := c.do(http.MethodPost, "/api/tasks", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var submitted struct {
		TaskID     string `json:"task_id"`
		QueueDepth int    `json:"queue_depth"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return err
	}
	fmt.Printf("task %s enqueued (queue depth %d)\n", submitted.TaskID, submitted.QueueDepth)
	return nil
}

func printAudit(c *client, args []string) error {
	path := "/api/audit?limit=50"
	if len(args) > 1 {
		path += "&agent_id=" + args[1]
	}

	var list []AuditEvent
	if err := c.getJSON(path, &list); err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("(no audit events)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tAGENT\tKIND\tDETAIL")
	fmt.Fprintln(w, "----\t-----\t----\t------")
	for _, e := range list {
		ts := e.Timestamp
		if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
			ts = t.Format("Jan 02 15:04:05")
		}
		detail := ""
		switch {
		case e.FromState != "" || e.ToState != "":
			detail = e.FromState + " -> " + e.ToState
		case e.Error != "":
			detail = e.Error
		case e.TaskID != "":
			detail = "task " + e.TaskID
		}
		if e.Actor != "" {
			detail += " (by " + e.Actor + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ts, e.AgentID, e.Kind, detail)
	}
	w.Flush()
	return nil
}

func runShutdown(c *client) error {
	resp, err := c.do(http.MethodPost, "/api/shutdown", strings.NewReader(`{}`))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var report struct {
		Stopped    []string `json:"stopped"`
		Stragglers []string `json:"stragglers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return err
	}
	fmt.Printf("shutdown complete: %d stopped, %d stragglers\n", len(report.Stopped), len(report.Stragglers))
	if len(report.Stragglers) > 0 {
		fmt.Printf("stragglers: %s\n", strings.Join(report.Stragglers, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
