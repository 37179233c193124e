// Package logging builds the process-wide zap logger.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a JSON logger at the given level ("debug", "info", "warn",
// "error"). When file is non-empty, output is also written to a rotating file.
func New(level, file string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	sink := zapcore.AddSync(os.Stdout)
	if file != "" {
		rot := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(rot))
	}

	core := zapcore.NewCore(enc, sink, lvl)
	return zap.New(core, zap.AddCaller()), nil
}
