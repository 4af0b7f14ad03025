// Package logx configures chtbtr's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog:
//   - console output stays readable (short timestamp, short caller)
//   - file output is JSON lines
//   - an optional alert sink forwards warnings to an ops chat, rate limited
//     and never blocking the caller
package logx
