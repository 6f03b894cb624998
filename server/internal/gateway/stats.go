package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
)

const (
	cpuCommand    = `grep 'cpu ' /proc/stat | awk '{usage=($2+$4)*100/($2+$4+$5)} END {print usage}'`
	memoryCommand = `free -m | awk 'NR==2{printf "%.2f", $3*100/$2 }'`
	diskCommand   = `df -h / | awk 'NR==2 {print $5}' | sed 's/%//'`

	nginxStatusCommand = "service nginx status"
	accessLogPath      = "/var/log/nginx/access.log"

	MaxAccessLogLines     = 500
	DefaultAccessLogLines = 20
)

// Metric names used as keys of Stats.Errors.
const (
	MetricCPU    = "cpu"
	MetricMemory = "memory"
	MetricDisk   = "disk"
)

// Stats is a point-in-time usage sample. A metric that could not be read is
// zero and its failure is recorded in Errors.
type Stats struct {
	CPUPercent    float64           `json:"cpu"`
	MemoryPercent float64           `json:"memory"`
	DiskPercent   float64           `json:"disk"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// Partial reports whether any metric failed.
func (s *Stats) Partial() bool {
	return len(s.Errors) > 0
}

// SystemStats runs the cpu, memory and disk probes concurrently.
func (c *Client) SystemStats(ctx context.Context, t Target) (*Stats, error) {
	if err := validateTarget("stats", t); err != nil {
		return nil, err
	}

	stats := &Stats{}
	probes := []struct {
		metric  string
		command string
		dst     *float64
	}{
		{MetricCPU, cpuCommand, &stats.CPUPercent},
		{MetricMemory, memoryCommand, &stats.MemoryPercent},
		{MetricDisk, diskCommand, &stats.DiskPercent},
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, p := range probes {
		g.Go(func() error {
			v, err := c.probe(ctx, t, p.command)
			if err != nil {
				mu.Lock()
				if stats.Errors == nil {
					stats.Errors = make(map[string]string)
				}
				stats.Errors[p.metric] = err.Error()
				mu.Unlock()
				return nil
			}
			*p.dst = v
			return nil
		})
	}
	_ = g.Wait()

	if len(stats.Errors) == len(probes) {
		c.log.Warn("all stats probes failed", "addr", t.Addr(), "errors", stats.Errors)
	}
	return stats, nil
}

func (c *Client) probe(ctx context.Context, t Target, command string) (float64, error) {
	out, err := c.RunCommand(ctx, t, command)
	if err != nil {
		return 0, err
	}
	v, err := parsePercent(out)
	if err != nil {
		return 0, apperr.Connection("stats", apperr.ReasonProtocolError, err)
	}
	return v, nil
}

func parsePercent(out string) (float64, error) {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(out), "%"))
	if s == "" {
		return 0, fmt.Errorf("empty probe output")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected probe output %q", s)
	}
	return v, nil
}

// WebStatus is the state of the nginx service on a web endpoint.
type WebStatus struct {
	Running bool   `json:"running"`
	Output  string `json:"output"`
}

// NginxStatus queries the service manager for nginx.
func (c *Client) NginxStatus(ctx context.Context, t Target) (*WebStatus, error) {
	out, err := c.RunCommand(ctx, t, nginxStatusCommand)
	if err != nil {
		return nil, err
	}
	return &WebStatus{
		Running: strings.Contains(out, "is running"),
		Output:  strings.TrimSpace(out),
	}, nil
}

// ClampLogLines bounds a requested access log line count.
func ClampLogLines(n int) int {
	if n <= 0 {
		return DefaultAccessLogLines
	}
	if n > MaxAccessLogLines {
		return MaxAccessLogLines
	}
	return n
}

// AccessLogs returns the last lines of the nginx access log.
func (c *Client) AccessLogs(ctx context.Context, t Target, lines int) (string, error) {
	return c.RunCommand(ctx, t, fmt.Sprintf("tail -n %d %s", ClampLogLines(lines), accessLogPath))
}
