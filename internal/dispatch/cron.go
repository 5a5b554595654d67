package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "castline/pkg/logx"
)

// Trigger periodically re-runs bulk dispatch so entries whose time has
// arrived get their jobs submitted even when no operator is around.
type Trigger struct {
	d   *Dispatcher
	c   *cron.Cron
	log logx.Logger
}

// NewTrigger registers one cron schedule per spec. Specs are either
// standard five-field cron expressions or "HH:MM" daily times.
func NewTrigger(d *Dispatcher, specs []string, log logx.Logger) (*Trigger, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Trigger{d: d, c: cron.New(), log: log}

	for _, raw := range specs {
		spec, err := normalizeSpec(raw)
		if err != nil {
			return nil, err
		}
		if _, err := t.c.AddFunc(spec, t.fire); err != nil {
			return nil, fmt.Errorf("dispatch schedule %q: %w", raw, err)
		}
	}
	return t, nil
}

func (t *Trigger) Start() { t.c.Start() }

func (t *Trigger) Stop(ctx context.Context) {
	select {
	case <-t.c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
}

func (t *Trigger) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := t.d.DispatchAll(ctx)
	if err != nil {
		t.log.Error("scheduled dispatch failed", logx.Err(err), logx.Int("submitted", n))
		return
	}
	t.log.Info("scheduled dispatch complete", logx.Int("submitted", n))
}

// normalizeSpec converts "HH:MM" daily times to cron form and passes
// cron expressions through.
func normalizeSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if h, m, ok := parseHHMM(s); ok {
		return fmt.Sprintf("%d %d * * *", m, h), nil
	}
	if s == "" {
		return "", fmt.Errorf("empty dispatch schedule")
	}
	return s, nil
}

func parseHHMM(s string) (h, m int, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
