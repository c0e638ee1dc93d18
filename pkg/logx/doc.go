// Package logx is surveysched's structured logger.
//
// Logger is a small value type over zerolog. Loggers handed out by a Service
// follow its sinks across Apply, so a config reload changes level and
// outputs for every component at once. Sinks:
//   - console (pretty, short caller)
//   - JSON file
//   - an ops chat, for warn/error lines, rate limited and never blocking
package logx
