// Package history persists the chat transcript to a rotating on-disk log,
// separate from the console: the console shows the live conversation, the
// history file is the durable record.
package history

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Recorder appends chat events to the history log. A zero-value Recorder
// (or one created with an empty path) discards everything, so callers
// never need to guard their calls.
type Recorder struct {
	log *zap.Logger
}

// New creates a Recorder writing to path with size-based rotation.
// An empty path disables persistence.
func New(path string) *Recorder {
	if path == "" {
		return &Recorder{}
	}

	ws := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MiB
		MaxBackups: 3,
		MaxAge:     30, // days
	})

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, zapcore.InfoLevel)

	return &Recorder{log: zap.New(core)}
}

// Sent records an outgoing message and its sequence number.
func (r *Recorder) Sent(seq uint32, text string) {
	if r.log == nil {
		return
	}
	r.log.Info("sent", zap.Uint32("seq", seq), zap.String("text", text))
}

// Received records an incoming message.
func (r *Recorder) Received(text string) {
	if r.log == nil {
		return
	}
	r.log.Info("received", zap.String("text", text))
}

// PeerConnected records the moment the peer's address became known.
func (r *Recorder) PeerConnected(addr string) {
	if r.log == nil {
		return
	}
	r.log.Info("peer connected", zap.String("addr", addr))
}

// SessionEnded records the end of the session.
func (r *Recorder) SessionEnded() {
	if r.log == nil {
		return
	}
	r.log.Info("session ended")
}

// Close flushes any buffered output.
func (r *Recorder) Close() {
	if r.log == nil {
		return
	}
	_ = r.log.Sync()
}
