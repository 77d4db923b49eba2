package handler

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/sentraexam-proctor/internal/config"
	"github.com/stemsi/sentraexam-proctor/internal/response"
)

const healthTimeout = 2 * time.Second

// Dependency is something the proctor cannot serve exams without.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

// RedisDependency pings Redis.
func RedisDependency(rdb redis.Cmdable) Dependency {
	return Dependency{Name: "redis", Ping: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}

// SystemHandler reports process health: dependency reachability, live exam
// sessions and audit queue backlog.
type SystemHandler struct {
	deps      []Dependency
	rdb       redis.Cmdable
	live      func() int
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a SystemHandler. rdb is used for queue depths and
// may be nil; live reports the number of running exam sessions.
func NewSystemHandler(rdb redis.Cmdable, live func() int, log zerolog.Logger, deps ...Dependency) *SystemHandler {
	return &SystemHandler{
		deps:      deps,
		rdb:       rdb,
		live:      live,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status       string            `json:"status"`
	Uptime       string            `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
	LiveSessions int               `json:"live_sessions"`

	QueueViolations  int64 `json:"queue_violations"`
	QueueSubmissions int64 `json:"queue_submissions"`

	Goroutines  int    `json:"goroutines"`
	HeapAlloc   uint64 `json:"heap_alloc"`
	AppRSSBytes uint64 `json:"app_rss_bytes"`
	GoVersion   string `json:"go_version"`
}

// Health godoc
// GET /health
// Returns 200 when every dependency answers, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	report := h.collect(ctx)
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}

func (h *SystemHandler) collect(ctx context.Context) healthReport {
	r := healthReport{
		Status:       "ok",
		Uptime:       formatDuration(time.Since(h.startTime)),
		Dependencies: make(map[string]string, len(h.deps)),
		Goroutines:   runtime.NumGoroutine(),
		GoVersion:    runtime.Version(),
	}

	for _, d := range h.deps {
		if err := d.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", d.Name).Msg("Health check failed")
			r.Dependencies[d.Name] = "down"
			r.Status = "degraded"
			continue
		}
		r.Dependencies[d.Name] = "up"
	}

	if h.live != nil {
		r.LiveSessions = h.live()
	}

	if h.rdb != nil {
		pipe := h.rdb.Pipeline()
		violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
		submissionsCmd := pipe.LLen(ctx, config.WorkerKey.PersistSubmissionsQueue)
		if _, err := pipe.Exec(ctx); err == nil {
			r.QueueViolations, _ = violationsCmd.Result()
			r.QueueSubmissions, _ = submissionsCmd.Result()
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.HeapAlloc = ms.HeapAlloc
	r.AppRSSBytes, _ = readProcessRSS()

	return r
}

// readProcessRSS reads VmRSS from /proc/self/status. Zero off Linux.
func readProcessRSS() (uint64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			// Format: "VmRSS:     123456 kB"
			fields := strings.Fields(line)
			if len(fields) < 2 {
				break
			}
			kb, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0, err
			}
			return kb * 1024, nil
		}
	}
	return 0, fmt.Errorf("VmRSS not found")
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
