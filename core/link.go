package core

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/WroblewskiAdam/column-stripper/protocol"
)

// receivePollTimeout bounds one receive attempt while hunting for a
// frame start; a frame already in progress completes at line rate.
const receivePollTimeout = 10 * time.Millisecond

// Link runs the communication task: pull one frame at a time off the
// transport, dispatch it, write the framed response back. Corrupt
// frames never produce a response.
type Link struct {
	rw         io.ReadWriter
	reader     *protocol.FrameReader
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewLink wires a link over rw.
func NewLink(rw io.ReadWriter, dispatcher *Dispatcher, logger *zap.Logger) *Link {
	return &Link{
		rw:         rw,
		reader:     protocol.NewFrameReader(rw),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Poll performs one receive attempt and handles at most one command.
func (l *Link) Poll() error {
	payload, err := l.reader.ReadFrame(receivePollTimeout)
	if err != nil {
		return err
	}
	if payload == nil {
		return nil // nothing arrived
	}
	resp := l.dispatcher.Dispatch(payload)
	if resp == nil {
		return nil
	}
	frame, err := protocol.Encode(resp)
	if err != nil {
		l.logger.Error("encoding response", zap.Error(err))
		return nil
	}
	if _, err := l.rw.Write(frame); err != nil {
		return err
	}
	return nil
}

// Run polls until the context ends or the transport fails.
func (l *Link) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := l.Poll(); err != nil {
			if err == io.EOF {
				l.logger.Info("link closed")
				return nil
			}
			l.logger.Error("link error", zap.Error(err))
			return err
		}
	}
}
