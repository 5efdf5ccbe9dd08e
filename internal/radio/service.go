package radio

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/driftfm/drift-core/internal/bus"
	"github.com/driftfm/drift-core/internal/protocol"
)

// IntroFinisher ends an intro when a device reports it done.
type IntroFinisher interface {
	Finish(token uint64) bool
}

// Service lets devices drive the orchestrator over the bus.
type Service struct {
	orch          *Orchestrator
	finisher      IntroFinisher
	bus           *bus.Client
	selectTimeout time.Duration
	logger        *slog.Logger
	ctx           context.Context
	cancel        context.CancelFunc
	subSelect     *nats.Subscription
	subDone       *nats.Subscription

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewService(parent context.Context, orch *Orchestrator, finisher IntroFinisher, busClient *bus.Client, selectTimeout time.Duration, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if selectTimeout <= 0 {
		selectTimeout = time.Minute
	}
	return &Service{
		orch:          orch,
		finisher:      finisher,
		bus:           busClient,
		selectTimeout: selectTimeout,
		logger:        logger.With(slog.String("component", "radio-service")),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectChannelSelect, s.handleSelect)
	if err != nil {
		return err
	}
	s.subSelect = sub

	subDone, err := s.bus.Conn().Subscribe(protocol.SubjectIntroDone, s.handleIntroDone)
	if err != nil {
		_ = s.subSelect.Drain()
		return err
	}
	s.subDone = subDone
	s.logger.Info("radio service listening", slog.String("subject", protocol.SubjectChannelSelect))
	return nil
}

// Close stops accepting selections and waits for running ones to reply.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	if s.subSelect != nil {
		_ = s.subSelect.Drain()
	}
	if s.subDone != nil {
		_ = s.subDone.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.subSelect != nil && s.subDone != nil
}

func (s *Service) handleSelect(msg *nats.Msg) {
	var req protocol.ChannelSelectRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode channel select request", slogError(err))
		s.reply(msg, protocol.ChannelSelectReply{Error: err.Error(), Code: "bad_request"})
		return
	}
	if req.Source == "" {
		req.Source = "bus"
	}

	// Drain delivers late messages after Close; Add must not race Wait.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.reply(msg, protocol.ChannelSelectReply{ChannelID: req.ChannelID, Error: "radio service is shutting down", Code: "unavailable"})
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(WithSource(s.ctx, req.Source), s.selectTimeout)
		defer cancel()

		err := s.orch.Select(ctx, req.ChannelID)
		resp := protocol.ChannelSelectReply{
			ChannelID: req.ChannelID,
			State:     string(s.orch.Snapshot().State),
		}
		if err != nil {
			resp.Error = err.Error()
			resp.Code = Code(err)
		}
		s.reply(msg, resp)
	}()
}

func (s *Service) handleIntroDone(msg *nats.Msg) {
	var done protocol.IntroDone
	if err := json.Unmarshal(msg.Data, &done); err != nil {
		s.logger.Warn("failed to decode intro done", slogError(err))
		return
	}
	if !s.finisher.Finish(done.Token) {
		s.logger.Debug("intro done for unknown token", slog.Uint64("token", done.Token))
	}
}

func (s *Service) reply(msg *nats.Msg, resp protocol.ChannelSelectReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}
