// Package logtail reads the tail of the hackops log file for the dashboard.
//
// # Reading
//
// Read returns the last N lines of a file in one pass using a ring buffer of
// size N, so memory stays O(N) however large the log grows. A missing file is
// not an error; the dashboard simply shows nothing until the first write.
//
// # Parsing
//
// hackops logs through logrus' TextFormatter when the dashboard owns the
// terminal, which produces lines such as:
//
//	time="2026-10-19T10:11:12Z" level=warning msg="rollback conflict" component=state kind=participant
//
// Parse splits such a line into time, level, message and the remaining
// fields in written order. Anything else (a panic trace, a line from another
// writer) comes back with the whole line as the message.
package logtail
