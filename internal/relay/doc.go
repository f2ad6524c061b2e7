// Package relay reads log lines from a stream, typically a child process's
// stdout or stderr, guesses each line's severity and re-emits it through a
// rate limited logger. Under a flood the logger drops lines and later reports
// how many were dropped, which keeps a noisy process from swamping the
// downstream log pipeline.
package relay
