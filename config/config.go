package config

import "time"

var Version = "unknown"

const (
	// Object store key prefixes for uploaded sources and encoded outputs.
	SourcePrefix  = "source/"
	EncodedPrefix = "encoded/"

	// How long presigned URLs handed to the encoder/decoder subprocesses
	// stay valid. Must outlive any single encode.
	WorkerPresignExpiry = 24 * time.Hour

	// Frames between progress log lines in the analyzer.
	ProgressLogInterval = 25
)

// Cli holds the full configuration surface for both the API server and the
// worker. Every field is backed by a flag and, through ff, by the matching
// environment variable (flag "database-url" <-> env DATABASE_URL).
type Cli struct {
	HTTPAddress string

	DatabaseURL string

	S3EndpointURL      string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Bucket           string
	S3Region           string
	// Expiry in seconds for download URLs returned by the query API.
	PresignedURLExpiration int

	AMQPURL   string
	QueueName string
	Prefetch  int

	RegressorPath string

	QualityFloor float64
	CRFRange     Range
	QPRange      Range

	AnalyzerWorkers     int
	FrameLookahead      int
	EncodeTimeoutFactor float64
}

func (c Cli) PresignExpiry() time.Duration {
	return time.Duration(c.PresignedURLExpiration) * time.Second
}
