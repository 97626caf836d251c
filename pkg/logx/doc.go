// Package logx is voicepager's structured logging layer on top of zerolog.
//
// Console output is human-readable, the optional file sink is JSON lines,
// and warnings can be mirrored into a Telegram chat through a rate-limited,
// non-blocking sink. The zero Logger is a valid no-op.
package logx
