// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort       = "8080"
	DefaultDBPath     = "transcripts.db"
	DefaultCacheDir   = "cache"
	DefaultWorkDir    = "work"
	DefaultServiceURL = "http://127.0.0.1:9000"
	DefaultMediaURL   = "http://127.0.0.1:9001/media"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
)

// Queue and dispatcher
const (
	DefaultConcurrency   = 2
	DefaultPollInterval  = 2 * time.Second
	DefaultMaxPending    = 50
	DefaultMaxRetries    = 3
	DefaultJobRetention  = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Result cache
const (
	DefaultCacheMaxBytes = int64(500 * 1024 * 1024)
	DefaultCacheMaxAge   = 7 * 24 * time.Hour
	CacheSweepInterval   = 1 * time.Hour
	CacheOpWorkers       = 4
)

// Transcription service
const (
	DefaultHTTPTimeout    = 5 * time.Minute
	TranscribeTimeout     = 10 * time.Minute
	DefaultRetryCount     = 3
	DefaultRetryBase      = 1 * time.Second
	TranscribeAttempts    = 4
	TranscribeBackoffBase = 2 * time.Second
	SegmentThresholdBytes = int64(24 * 1024 * 1024)
	SegmentDuration       = 5 * time.Minute
	DefaultSegmentWorkers = 3
	MinRequestInterval    = 200 * time.Millisecond
)

// Realtime channel
const (
	HeartbeatTimeout    = 35 * time.Second
	WriteTimeout        = 10 * time.Second
	MaxConnsPerIdentity = 3
	ConnSendBuffer      = 16
)

// MIME Types
const (
	MimeTypeJSON = "application/json"
)

// File Extensions
const (
	ExtMP3  = ".mp3"
	ExtFLAC = ".flac"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)
