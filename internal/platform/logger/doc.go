// Package logger provides structured logging functionality for the
// application, including context propagation helpers so that request- or
// task-scoped loggers flow through store and engine code.
package logger
