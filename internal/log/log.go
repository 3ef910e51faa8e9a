// Package log wraps zerolog with the small set of helpers the rest of
// pgtrace uses: leveled, printf-style and concatenation-style logging
// plus a process-wide "application" tag attached to every line.
package log

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger used throughout pgtrace.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// SetLevel sets the global logging level by name, defaulting to info.
func SetLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// SetApplication tags every subsequent log line with the binary name.
func SetApplication(name string) {
	if name == "" {
		return
	}
	Logger = Logger.With().Str("app", name).Logger()
}

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Debugf(format string, v ...interface{}) { Logger.Debug().Msgf(format, v...) }

func Debugln(v ...interface{}) { Logger.Debug().Msg(fmt.Sprint(v...)) }

func Info(msg string) { Logger.Info().Msg(msg) }

func Infof(format string, v ...interface{}) { Logger.Info().Msgf(format, v...) }

func Infoln(v ...interface{}) { Logger.Info().Msg(fmt.Sprint(v...)) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Warnf(format string, v ...interface{}) { Logger.Warn().Msgf(format, v...) }

func Warnln(v ...interface{}) { Logger.Warn().Msg(fmt.Sprint(v...)) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, v ...interface{}) { Logger.Error().Msgf(format, v...) }

func Errorln(v ...interface{}) { Logger.Error().Msg(fmt.Sprint(v...)) }
