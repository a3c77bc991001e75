package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
)

func init() {
	Log = build(level)
}

func build(lvl zap.AtomicLevel) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalColorLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stdout),
		lvl,
	)

	return zap.New(core, zap.AddCaller())
}

// SetLevel changes the level of the shared logger; unknown names keep the current level.
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

// L returns the shared logger, named when a component name is given.
func L(component ...string) *zap.Logger {
	if len(component) == 0 || component[0] == "" {
		return Log
	}
	return Log.Named(component[0])
}

func Sync() { _ = Log.Sync() }

func Warn(msg string, fields ...zap.Field)  { Log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }
