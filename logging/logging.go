// Package logging builds the process logger from a small set of
// options, the way smtpd.GetLogger built one for its daemon, but on
// top of logrus instead of a bracketed-level *log.Logger scraped by
// regex.
package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Options configures where and how the process logs.
type Options struct {
	File           string // path to a log file; empty disables file logging
	FileMode       string // octal file mode, e.g. "0644"
	SyslogFacility string // syslog facility name; empty disables syslog
	Level          string // logrus level name; defaults to "info"
}

// facilityMap maps textual facility names to syslog priorities.
var facilityMap = map[string]syslog.Priority{
	"kern":     syslog.LOG_KERN,
	"user":     syslog.LOG_USER,
	"mail":     syslog.LOG_MAIL,
	"daemon":   syslog.LOG_DAEMON,
	"auth":     syslog.LOG_AUTH,
	"syslog":   syslog.LOG_SYSLOG,
	"lpr":      syslog.LOG_LPR,
	"news":     syslog.LOG_NEWS,
	"uucp":     syslog.LOG_UUCP,
	"cron":     syslog.LOG_CRON,
	"authpriv": syslog.LOG_AUTHPRIV,
	"ftp":      syslog.LOG_FTP,
	"local0":   syslog.LOG_LOCAL0,
	"local1":   syslog.LOG_LOCAL1,
	"local2":   syslog.LOG_LOCAL2,
	"local3":   syslog.LOG_LOCAL3,
	"local4":   syslog.LOG_LOCAL4,
	"local5":   syslog.LOG_LOCAL5,
	"local6":   syslog.LOG_LOCAL6,
	"local7":   syslog.LOG_LOCAL7,
}

// SyslogHook forwards logrus entries to syslog at the matching
// priority. It replaces smtpd's SyslogWriter, which scraped a
// "[LEVEL] " prefix out of already-formatted text with a pair of
// regexps; here the level is simply the logrus.Entry's own field.
type SyslogHook struct {
	w *syslog.Writer
}

// NewSyslogHook dials syslog for the given facility (defaulting to
// LOG_DAEMON for an unrecognised name).
func NewSyslogHook(facility string) (*SyslogHook, error) {
	f, ok := facilityMap[facility]
	if !ok {
		f = syslog.LOG_DAEMON
	}
	w, err := syslog.New(f|syslog.LOG_INFO, "lircd")
	if err != nil {
		return nil, err
	}
	return &SyslogHook{w: w}, nil
}

// Levels implements logrus.Hook.
func (h *SyslogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *SyslogHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	switch e.Level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return h.w.Emerg(line)
	case logrus.ErrorLevel:
		return h.w.Err(line)
	case logrus.WarnLevel:
		return h.w.Warning(line)
	case logrus.InfoLevel:
		return h.w.Info(line)
	case logrus.DebugLevel, logrus.TraceLevel:
		return h.w.Debug(line)
	default:
		return h.w.Notice(line)
	}
}

// Close releases the syslog connection.
func (h *SyslogHook) Close() error {
	return h.w.Close()
}

// New builds a *logrus.Logger from opts. The returned io.Closer (which
// may be nil) must be closed by the caller on shutdown or on reload,
// before the next logger replaces it.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.InfoLevel
	if opts.Level != "" {
		if l, err := logrus.ParseLevel(opts.Level); err == nil {
			level = l
		}
	}
	logger.SetLevel(level)

	if opts.File != "" {
		mode := os.FileMode(0644)
		if opts.FileMode != "" {
			v, err := strconv.ParseUint(opts.FileMode, 8, 32)
			if err != nil {
				return nil, nil, fmt.Errorf("logging: invalid file mode %q: %w", opts.FileMode, err)
			}
			mode = os.FileMode(v)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, mode)
		if err != nil {
			return nil, nil, err
		}
		logger.SetOutput(f)
		return logger, f, nil
	}

	if opts.SyslogFacility != "" {
		hook, err := NewSyslogHook(opts.SyslogFacility)
		if err != nil {
			return nil, nil, err
		}
		logger.SetOutput(io.Discard)
		logger.AddHook(hook)
		return logger, hook, nil
	}

	logger.SetOutput(os.Stderr)
	return logger, nil, nil
}
