// Package audit buffers and delivers audit events for the two-factor flows.
//
// The engine decides which events to emit; this package only queues them and
// hands them to a Sink (channel, JSON lines, zerolog or a fan-out of those).
package audit
