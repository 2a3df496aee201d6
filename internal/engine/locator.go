/*
PURPOSE:
  Finds the running inference server: configured URL, status command, candidate ports.

ARCHITECTURE INTEGRATION:
  - Called by: Engine.RunDiagnostic, Engine.RunBenchmark, 'locate' and 'list-models'

ERROR HANDLING:
  - ErrServiceNotRunning when no locator finds a server.
  - A missing status command is skipped, not an error.
*/

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/daryltucker/stream-probe/internal/output"
	"github.com/daryltucker/stream-probe/internal/probe"
)

// ErrServiceNotRunning is returned when no locator finds a reachable server.
var ErrServiceNotRunning = errors.New("inference server is not running")

// ServiceStatus is the answer of a Locator.
type ServiceStatus struct {
	Running bool
	BaseURL string
	// Source names the locator that answered, for logs.
	Source string
}

// Locator finds the base URL of a running server.
type Locator interface {
	Locate(ctx context.Context) (ServiceStatus, error)
}

// Locator returns the default chain: configured URL, status command (if any), then port scan.
func (e *Engine) Locator() Locator {
	cfg := e.Config
	chain := ChainLocator{&StaticLocator{Client: e.Client, BaseURL: cfg.BaseURL}}
	if len(cfg.Locator.Command) > 0 {
		chain = append(chain, &CommandLocator{
			Client:  e.Client,
			Command: cfg.Locator.Command,
			Host:    cfg.Locator.Host,
		})
	}
	if len(cfg.Locator.Ports) > 0 {
		chain = append(chain, &PortLocator{Client: e.Client, Host: cfg.Locator.Host, Ports: cfg.Locator.Ports})
	}
	return chain
}

// StaticLocator checks one configured URL.
type StaticLocator struct {
	Client  *http.Client
	BaseURL string
}

func (l *StaticLocator) Locate(ctx context.Context) (ServiceStatus, error) {
	if l.BaseURL == "" || !reachable(ctx, l.Client, l.BaseURL) {
		return ServiceStatus{Source: "static"}, nil
	}
	return ServiceStatus{Running: true, BaseURL: l.BaseURL, Source: "static"}, nil
}

// PortLocator tries host:port for each candidate port in order.
type PortLocator struct {
	Client *http.Client
	Host   string
	Ports  []int
}

func (l *PortLocator) Locate(ctx context.Context) (ServiceStatus, error) {
	for _, port := range l.Ports {
		if ctx.Err() != nil {
			return ServiceStatus{}, ctx.Err()
		}
		base := hostURL(l.Host, port)
		if reachable(ctx, l.Client, base) {
			return ServiceStatus{Running: true, BaseURL: base, Source: "port"}, nil
		}
	}
	return ServiceStatus{Source: "port"}, nil
}

// CommandLocator runs a status command such as `lms server status --json` and reads
// {"running": bool, "port": int} from its stdout.
type CommandLocator struct {
	Client  *http.Client
	Command []string
	Host    string
	// Run executes the command; nil means os/exec.
	Run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (l *CommandLocator) Locate(ctx context.Context) (ServiceStatus, error) {
	if len(l.Command) == 0 {
		return ServiceStatus{Source: "command"}, nil
	}
	run := l.Run
	if run == nil {
		run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		}
	}

	out, err := run(ctx, l.Command[0], l.Command[1:]...)
	if errors.Is(err, exec.ErrNotFound) {
		output.Logger.Debug("Status command not installed", "command", l.Command[0])
		return ServiceStatus{Source: "command"}, nil
	}
	if err != nil {
		return ServiceStatus{}, fmt.Errorf("status command %s: %w", l.Command[0], err)
	}

	var status struct {
		Running bool `json:"running"`
		Port    int  `json:"port"`
	}
	if err := json.Unmarshal(out, &status); err != nil {
		return ServiceStatus{}, fmt.Errorf("parse status command output: %w", err)
	}
	if !status.Running || status.Port == 0 {
		return ServiceStatus{Source: "command"}, nil
	}

	base := hostURL(l.Host, status.Port)
	if l.Client != nil && !reachable(ctx, l.Client, base) {
		return ServiceStatus{Source: "command"}, nil
	}
	return ServiceStatus{Running: true, BaseURL: base, Source: "command"}, nil
}

// ChainLocator returns the first running answer. Member errors are logged and skipped.
type ChainLocator []Locator

func (c ChainLocator) Locate(ctx context.Context) (ServiceStatus, error) {
	for _, l := range c {
		status, err := l.Locate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ServiceStatus{}, ctx.Err()
			}
			output.Logger.Warn("Locator failed", "error", err)
			continue
		}
		if status.Running {
			output.Logger.Info("Located server", "base_url", status.BaseURL, "source", status.Source)
			return status, nil
		}
	}
	return ServiceStatus{}, ErrServiceNotRunning
}

// reachable reports whether GET {base}/v1/models answers 2xx.
func reachable(ctx context.Context, client *http.Client, base string) bool {
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe.APIBase(base)+"/models", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		output.Logger.Debug("Server not reachable", "base_url", base, "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func hostURL(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}
