// Package logger builds the zap logger used by the csvtypes command.
//
// Library packages never reach for a global; they take a *zap.Logger and
// default to zap.NewNop(). Only cmd/csvtypes and internal/cli call New.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels for the repeated -v flag.
const (
	VerbosityQuiet = 0 // warnings and errors only
	VerbosityInfo  = 1 // -v: + progress
	VerbosityDebug = 2 // -vv: + per-column decisions
)

// Options controls New.
type Options struct {
	// JSON selects the production JSON encoder; otherwise a console
	// encoder is used.
	JSON bool
	// Verbosity is the -v count.
	Verbosity int
	// Out receives log lines. Defaults to os.Stderr so generated source on
	// stdout stays clean.
	Out io.Writer
}

// VerbosityToLevel maps -v counts to zap levels.
//
//	0      -> WarnLevel
//	1 (-v) -> InfoLevel
//	2+     -> DebugLevel
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityQuiet:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// New builds a logger writing to opts.Out.
func New(opts Options) *zap.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var enc zapcore.Encoder
	if opts.JSON {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.EncodeCaller = nil
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), VerbosityToLevel(opts.Verbosity))
	return zap.New(core).Named("csvtypes")
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
