package constants

// Enrollment
const (
	// DefaultConcurrency is how many identities `enroll` registers at once.
	DefaultConcurrency = 4
)

// HTTP surface
const (
	// MaxUploadSize caps a registration or identify-frame upload when
	// WEB_MAX_UPLOAD_MB is unset (32 MiB).
	MaxUploadSize = 32 << 20
	// MaxFramesPerRequest caps the frames in one multipart registration.
	MaxFramesPerRequest = 50
	// SSEKeepAliveSeconds spaces comment lines on idle event streams.
	SSEKeepAliveSeconds = 15
	// EventChannelBuffer is each in-process subscriber's queue length; a
	// subscriber that falls further behind misses events.
	EventChannelBuffer = 100
)
