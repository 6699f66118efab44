package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalHandler cancels its context on SIGINT or SIGTERM so long-running
// commands can unwind gracefully.
type SignalHandler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
}

func NewSignalHandler(parent context.Context) *SignalHandler {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	return &SignalHandler{ctx: ctx, cancel: cancel, sigChan: sigChan}
}

func (s *SignalHandler) Start() {
	go func() {
		select {
		case sig := <-s.sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
}

func (s *SignalHandler) Context() context.Context {
	return s.ctx
}

func (s *SignalHandler) Stop() {
	signal.Stop(s.sigChan)
	s.cancel()
}
