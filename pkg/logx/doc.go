// Package logx is taskbot's structured logging layer.
//
// A small Logger value wraps zerolog so that components can derive
// fixed-field loggers cheaply. The Service owns the sinks:
//   - console (short timestamp + file:line caller)
//   - JSON file
//   - optional Telegram chat (min-level + rate limited, never blocks)
package logx
