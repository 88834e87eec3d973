package metrics

import (
	"time"
)

// TransferMetrics provides observability for the transfer adapter.
//
// Implementations collect metrics about protocol requests, connection
// lifecycle, upload throughput, and checksum verdicts. This interface is
// optional - pass nil to disable metrics collection with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	adapter := transfer.New(config, store, prometheus.NewTransferMetrics())
//
//	// Without metrics (pass nil for zero overhead)
//	adapter := transfer.New(config, store, nil)
type TransferMetrics interface {
	// RecordRequest records a completed protocol request with its code name,
	// duration, and outcome ("ok", "rejected", or "error").
	RecordRequest(code string, duration time.Duration, outcome string)

	// RecordRequestStart increments the in-flight request counter.
	RecordRequestStart(code string)

	// RecordRequestEnd decrements the in-flight request counter.
	RecordRequestEnd(code string)

	// RecordUploadBytes records ciphertext bytes consumed and plaintext
	// bytes written for a file upload.
	RecordUploadBytes(ciphertext, plaintext uint64)

	// RecordChecksumVerdict records a client checksum verdict:
	// "valid", "retry", or "abort".
	RecordChecksumVerdict(verdict string)

	// RecordRegistration records a registration attempt and whether the
	// requested name was accepted.
	RecordRegistration(accepted bool)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed increments the force-closed connections
	// counter. Called when connections are forcibly closed after the
	// shutdown timeout.
	RecordConnectionForceClosed()
}
