// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Matching constants
const (
	// DefaultDescriptorDim is the descriptor length produced by the default extractor
	DefaultDescriptorDim = 128

	// DefaultMatchThreshold is the minimum confidence to accept a match
	DefaultMatchThreshold = 0.4

	// DefaultHighConfidence is the early-exit cutoff for the early-exit strategy
	DefaultHighConfidence = 0.8

	// DefaultIndexNeighbors is how many neighbours the indexed strategy requests
	DefaultIndexNeighbors = 10

	// DuplicateDetectionIoU is the overlap above which two detections in the
	// same frame are treated as the same face
	DuplicateDetectionIoU = 0.6
)

// Session constants
const (
	// JoinCodeAlphabet and JoinCodeLength define the numeric join code
	JoinCodeAlphabet = "0123456789"
	JoinCodeLength   = 6

	// MaxSessionMinutes caps a single session's duration
	MaxSessionMinutes = 24 * 60

	// DefaultReapInterval is how often overdue sessions are ended
	DefaultReapInterval = 30 * time.Second
)

// Attendance constants
const (
	// SourceManual is the source recorded when the caller supplies none
	SourceManual = "manual"

	// SourceCamera is the source recorded by the scan loop
	SourceCamera = "camera"

	// CooldownKeyPrefix namespaces scan cooldown keys in Redis
	CooldownKeyPrefix = "attendance:cooldown:"
)

// Registration constants
const (
	// DefaultSampleCount is the number of vectors captured per registration
	DefaultSampleCount = 5

	// DefaultFrameFactor bounds examined frames to sampleCount * factor
	DefaultFrameFactor = 3
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) sent to the extractor
	MaxImageSize = 1280

	// DefaultAuditBuffer is the number of audit entries queued before drops
	DefaultAuditBuffer = 256
)
