// Package logx configures reposter's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Log level switchable at runtime via Service.Apply
package logx
