// Package log provides structured, colored logging for klinghsmd.
//
// Secret material (mnemonics, private scalars, passphrases) must never be
// passed to a logger. Slots, node addresses, wallet names and session ids
// are fine.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "15:04:05"

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers for different parts of the system.
var (
	Store   zerolog.Logger
	Wallet  zerolog.Logger
	SLIP39  zerolog.Logger
	Keyring zerolog.Logger
	RPC     zerolog.Logger
	Storage zerolog.Logger
	Node    zerolog.Logger
)

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init initializes the logger with the given configuration.
// When file is non-empty, logs are written to both the console (colored or
// JSON depending on jsonOutput) and the file (always JSON).
func Init(level string, jsonOutput bool, file string) error {
	var console io.Writer = os.Stdout
	if !jsonOutput {
		console = consoleWriter(os.Stdout)
	}

	out := console
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(console, f)
	}

	Logger = newLogger(out, level)
	initComponentLoggers()
	return nil
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(consoleWriter(w), level)
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// parseLevel converts a string level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func initComponentLoggers() {
	Store = component("store")
	Wallet = component("wallet")
	SLIP39 = component("slip39")
	Keyring = component("keyring")
	RPC = component("rpc")
	Storage = component("storage")
	Node = component("node")
}

func component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithWallet returns a wallet logger carrying the wallet name.
func WithWallet(name string) *zerolog.Logger {
	l := Wallet.With().Str("wallet", name).Logger()
	return &l
}

// WithSession returns a SLIP-39 logger carrying the session id.
func WithSession(id string) *zerolog.Logger {
	l := SLIP39.With().Str("session", id).Logger()
	return &l
}
