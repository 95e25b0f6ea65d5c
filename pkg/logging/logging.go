package logging

import (
	"fmt"
	"log/syslog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pvmapper/pvmapper/pkg/config"
)

// Logger wraps a zap.SugaredLogger with a runtime-adjustable verbosity
// scale.
type Logger struct {
	*zap.SugaredLogger

	configured config.LogLevel
	current    atomic.Int32
}

// Init builds a Logger per cfg's LOG_LEVEL/SYSLOG_FACILITY/SYSLOG_ID
// directives. Absent a facility, output goes to stderr using zap's
// production encoder; with one set, output goes to syslog via the
// standard library (no third-party syslog client is available).
func Init(cfg *config.Config) (*Logger, error) {
	l := &Logger{configured: cfg.LogLevel}
	l.current.Store(int32(cfg.LogLevel))

	sink, err := l.buildSink(cfg)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	core := zapcore.NewCore(encoder, sink, zap.LevelEnablerFunc(l.enabled))
	base := zap.New(core).Named(cfg.SyslogID)
	l.SugaredLogger = base.Sugar()

	zap.ReplaceGlobals(base)
	return l, nil
}

func (l *Logger) buildSink(cfg *config.Config) (zapcore.WriteSyncer, error) {
	if cfg.SyslogFacility == "" {
		return zapcore.AddSync(os.Stderr), nil
	}

	priority, err := parseFacility(cfg.SyslogFacility)
	if err != nil {
		return nil, err
	}
	writer, err := syslog.New(priority, cfg.SyslogID)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog: %w", err)
	}
	return zapcore.AddSync(writer), nil
}

// enabled implements zap.LevelEnablerFunc against the four-step scale.
// zap has no level between Info and Debug, so both "verbose" and "debug"
// gate the same zapcore.DebugLevel tier; callers distinguish intent by
// message content rather than by a separate zap level, since the scale
// itself only has one tier below Info.
func (l *Logger) enabled(lvl zapcore.Level) bool {
	cur := config.LogLevel(l.current.Load())
	switch lvl {
	case zapcore.DebugLevel:
		return cur >= config.LogLevelVerbose
	case zapcore.InfoLevel, zapcore.WarnLevel:
		return cur >= config.LogLevelInfo
	default:
		return true // error and above always surface
	}
}

// RestoreConfigured resets the level to what the config file specified,
// per SIGUSR1.
func (l *Logger) RestoreConfigured() {
	l.current.Store(int32(l.configured))
}

// IncreaseLevel steps one level toward debug, per SIGUSR2.
func (l *Logger) IncreaseLevel() {
	cur := config.LogLevel(l.current.Load())
	l.current.Store(int32(cur.Increment()))
}

// WatchSignals wires SIGUSR1/SIGUSR2 to RestoreConfigured/IncreaseLevel
// until stop is closed.
func (l *Logger) WatchSignals(stop <-chan struct{}) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-stop:
				return
			case sig := <-ch:
				switch sig {
				case syscall.SIGUSR1:
					l.RestoreConfigured()
				case syscall.SIGUSR2:
					l.IncreaseLevel()
				}
			}
		}
	}()
}
