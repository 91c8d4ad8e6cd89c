// Package log provides the process-wide zerolog logger used by every
// other package in this module.
//
// Init must be called once at process start (by cmd/containerless-controller
// or cmd/containerless-dispatcher) before any component logs. Components
// obtain a child logger tagged with their name via WithComponent, and
// functions are tagged further with WithFunctionName so that every log
// line for a given function's manager, autoscaler, or compiler run can be
// grepped out of a shared process log.
package log
