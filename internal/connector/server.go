// Package connector는 fleet activity를 Discord 채널로 전달합니다.
package connector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cnap-oss/codefleet/internal/storage"
)

const (
	DefaultInterval = 5 * time.Second
	relayBatch      = 100
	flushTimeout    = 5 * time.Second
)

// DefaultEvents are the event types relayed when Config.Events is empty.
var DefaultEvents = []string{
	storage.EventTaskCompleted,
	storage.EventTaskFailed,
	storage.EventAgentStarted,
	storage.EventAgentStopped,
}

// ActivitySource reads the activity log. storage.Repository implements it.
type ActivitySource interface {
	ListActivity(ctx context.Context, q storage.ActivityQuery) ([]storage.ActivityEvent, error)
}

// Config는 relay 설정입니다.
type Config struct {
	Interval time.Duration
	Events   []string
}

// Server는 activity 로그를 주기적으로 읽어 새 이벤트를 Discord로 보냅니다.
type Server struct {
	logger *zap.Logger
	source ActivitySource
	post   PostFunc
	cfg    Config

	// since 이후(포함) 이벤트만 조회하고, 같은 timestamp에서 이미 보낸 이벤트는 seen으로 거릅니다.
	since time.Time
	seen  map[string]struct{}
}

// NewServer는 새로운 connector 서버를 생성합니다. 생성 이전의 이벤트는 전달하지 않습니다.
func NewServer(cfg Config, source ActivitySource, post PostFunc, logger *zap.Logger) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("connector: nil activity source")
	}
	if post == nil {
		return nil, fmt.Errorf("connector: nil post func")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}
	return &Server{
		logger: logger,
		source: source,
		post:   post,
		cfg:    cfg,
		since:  time.Now().UTC(),
		seen:   make(map[string]struct{}),
	}, nil
}

// Start는 ctx가 취소될 때까지 relay를 반복합니다. 종료 직전에 한 번 더 전달해
// agent_stopped 같은 종료 이벤트를 놓치지 않습니다.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting connector server", zap.Duration("interval", s.cfg.Interval))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			if _, err := s.Relay(flushCtx); err != nil {
				s.logger.Warn("Failed to flush activity", zap.Error(err))
			}
			cancel()
			s.logger.Info("Connector server shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Relay(ctx); err != nil {
				s.logger.Warn("Failed to relay activity", zap.Error(err))
			}
		}
	}
}

// Relay posts the events recorded since the last relayed one and returns how
// many were sent. A failed post stops the batch; it is retried next time.
func (s *Server) Relay(ctx context.Context) (int, error) {
	events, err := s.source.ListActivity(ctx, storage.ActivityQuery{
		EventTypes: s.cfg.Events,
		Since:      s.since,
		Limit:      relayBatch,
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range events {
		if _, ok := s.seen[ev.EventID]; ok {
			continue
		}
		if err := s.post(Embed(ev)); err != nil {
			return sent, fmt.Errorf("connector: post event %s: %w", ev.EventID, err)
		}
		s.mark(ev)
		sent++
	}
	if sent > 0 {
		s.logger.Debug("Relayed activity", zap.Int("events", sent))
	}
	return sent, nil
}

func (s *Server) mark(ev storage.ActivityEvent) {
	ts := ev.Timestamp.UTC()
	if ts.After(s.since) {
		s.since = ts
		clear(s.seen)
	}
	s.seen[ev.EventID] = struct{}{}
}
