package metrics

import "time"

// NopTransferMetrics discards all recordings. Adapters substitute it when no
// recorder is supplied, so request paths never need nil checks.
type NopTransferMetrics struct{}

var _ TransferMetrics = NopTransferMetrics{}

func (NopTransferMetrics) RecordRequest(string, time.Duration, string) {}
func (NopTransferMetrics) RecordRequestStart(string)                   {}
func (NopTransferMetrics) RecordRequestEnd(string)                     {}
func (NopTransferMetrics) RecordUploadBytes(uint64, uint64)            {}
func (NopTransferMetrics) RecordChecksumVerdict(string)                {}
func (NopTransferMetrics) RecordRegistration(bool)                     {}
func (NopTransferMetrics) SetActiveConnections(int32)                  {}
func (NopTransferMetrics) RecordConnectionAccepted()                   {}
func (NopTransferMetrics) RecordConnectionClosed()                     {}
func (NopTransferMetrics) RecordConnectionForceClosed()                {}
