// Package notify posts failure alerts to a webhook. It is a logging-class
// sink: alerts are best-effort, dropped when the queue is full, and never
// influence scheduling.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chrond/internal/config"
	"chrond/internal/executor"
	logx "chrond/pkg/logx"
)

const (
	defaultQueueSize  = 64
	defaultRatePerSec = 1
	defaultTimeout    = 10 * time.Second
)

type alert struct {
	url  string
	task string
	text string
}

// Notifier is a bounded queue with a single worker: enqueue never blocks the
// executor, the x/time/rate limiter caps posts per second so a flapping task
// cannot flood the webhook.
type Notifier struct {
	log    logx.Logger
	client *http.Client

	mu        sync.Mutex
	globalURL string
	limiter   *rate.Limiter
	timeout   time.Duration
	closed    bool

	queue chan alert
	done  chan struct{}

	stopCtx    context.Context
	stopCancel context.CancelFunc
}

// New builds a notifier from cfg (nil means defaults with no global URL; a
// task-level on_failure hook still works).
func New(cfg *config.NotifyConfig, log logx.Logger) (*Notifier, error) {
	queueSize := defaultQueueSize
	if cfg != nil && cfg.QueueSize > 0 {
		queueSize = cfg.QueueSize
	}

	stopCtx, stopCancel := context.WithCancel(context.Background())
	n := &Notifier{
		log:        log,
		client:     &http.Client{},
		queue:      make(chan alert, queueSize),
		done:       make(chan struct{}),
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
	}
	if err := n.Apply(cfg); err != nil {
		stopCancel()
		return nil, err
	}
	go n.worker()
	return n, nil
}

// Apply installs new settings on reload. The queue itself keeps its size from
// construction; pending alerts are preserved.
func (n *Notifier) Apply(cfg *config.NotifyConfig) error {
	url := ""
	ratePerSec := defaultRatePerSec
	timeout := defaultTimeout
	if cfg != nil {
		url = strings.TrimSpace(cfg.WebhookURL)
		if cfg.RatePerSec > 0 {
			ratePerSec = cfg.RatePerSec
		}
		d, err := config.ParseDurationOrDefault("notify.timeout", cfg.Timeout, defaultTimeout)
		if err != nil {
			return err
		}
		timeout = d
	}

	n.mu.Lock()
	n.globalURL = url
	n.limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	n.timeout = timeout
	n.mu.Unlock()
	return nil
}

// Consume implements the executor sink: failed results become alerts, routed
// to the task's on_failure hook or the global webhook.
func (n *Notifier) Consume(task config.Task, res executor.Result) {
	if !res.Failed() {
		return
	}

	n.mu.Lock()
	url := n.globalURL
	closed := n.closed
	n.mu.Unlock()
	if task.OnFailure != nil && strings.TrimSpace(task.OnFailure.WebhookURL) != "" {
		url = strings.TrimSpace(task.OnFailure.WebhookURL)
	}
	if url == "" || closed {
		return
	}

	a := alert{url: url, task: task.Name, text: formatAlert(task.Name, res)}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- a:
	default:
		n.log.Warn("alert queue full; dropping",
			logx.String("task", task.Name),
			logx.Int("queue_cap", cap(n.queue)))
	}
}

// Close stops intake and drains pending alerts until ctx expires, after which
// the remainder is discarded.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		n.stopCancel()
		<-n.done
		return ctx.Err()
	}
}

func (n *Notifier) worker() {
	defer close(n.done)
	defer n.stopCancel()
	for a := range n.queue {
		if n.stopCtx.Err() != nil {
			continue // discard the rest; shutdown gave up waiting
		}
		n.mu.Lock()
		lim := n.limiter
		n.mu.Unlock()
		if err := lim.Wait(n.stopCtx); err != nil {
			continue
		}
		n.post(a)
	}
}

func (n *Notifier) post(a alert) {
	n.mu.Lock()
	timeout := n.timeout
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(n.stopCtx, timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"text": a.text})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		n.log.Error("alert request build failed", logx.String("task", a.task), logx.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Error("alert delivery failed", logx.String("task", a.task), logx.Err(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		n.log.Error("alert rejected by webhook",
			logx.String("task", a.task),
			logx.Int("status", resp.StatusCode))
		return
	}
	n.log.Debug("alert delivered", logx.String("task", a.task))
}

func formatAlert(task string, res executor.Result) string {
	var reason string
	switch {
	case res.TimedOut:
		reason = fmt.Sprintf("Command timed out after %s", res.Duration.Round(time.Millisecond))
	case res.Err != nil:
		reason = "Failed to run command: " + res.Err.Error()
	default:
		reason = fmt.Sprintf("Command exited with status %d", res.ExitCode)
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		reason += "\nStderr: " + s
	}
	return fmt.Sprintf("**Task failed**\n\n**Task:** `%s`\n**Error:** %s", task, reason)
}
