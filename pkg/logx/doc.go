// Package logx configures the bot's structured logging.
//
// logx.Logger is a thin wrapper over zerolog:
//   - console output stays readable (short timestamp, file:line caller)
//   - the optional file sink stays JSON
//   - the optional ops chat sink forwards WARN+ lines, rate limited
package logx
