package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// Nop returns a logger that discards everything, the default for library
// consumers that pass no logger.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithOperation adds operation context (run id + kind) to the logger.
func (l *Logger) WithOperation(runID, kind string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("run_id", runID).Str("operation", kind).Logger(),
	}
}

// WithAsset adds asset context to the logger.
func (l *Logger) WithAsset(name string, size int64) *Logger {
	return &Logger{
		logger: l.logger.With().Str("asset", name).Int64("asset_size", size).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// OperationStarted logs the start of an engine operation.
func (l *Logger) OperationStarted(runID, kind, localTag, remoteTag string) {
	l.logger.Info().
		Str("run_id", runID).
		Str("operation", kind).
		Str("local_tag", localTag).
		Str("remote_tag", remoteTag).
		Msg("operation started")
}

// ManifestDecoded logs a successfully decoded manifest.
func (l *Logger) ManifestDecoded(field string, assets int, uncompressed int64) {
	l.logger.Info().
		Str("matching_field", field).
		Int("assets", assets).
		Int64("uncompressed_size", uncompressed).
		Msg("manifest decoded")
}

// ManifestSkipped logs a manifest excluded by language selection.
func (l *Logger) ManifestSkipped(field string) {
	l.logger.Debug().
		Str("matching_field", field).
		Msg("manifest excluded by language selection")
}

// ChunkFetched logs a downloaded chunk.
func (l *Logger) ChunkFetched(name string, compressed int64) {
	l.logger.Debug().
		Str("chunk", name).
		Int64("compressed_size", compressed).
		Msg("chunk downloaded")
}

// ChunkReused logs a chunk satisfied from the local store.
func (l *Logger) ChunkReused(name string) {
	l.logger.Debug().
		Str("chunk", name).
		Msg("chunk already present, skipping download")
}

// AssetAssembled logs a finished asset merge.
func (l *Logger) AssetAssembled(name string, size int64, chunks int, diff bool) {
	l.logger.Debug().
		Str("asset", name).
		Int64("size", size).
		Int("chunks", chunks).
		Bool("diff_merge", diff).
		Msg("asset assembled")
}

// VerifyConflict logs an asset that failed verification.
func (l *Logger) VerifyConflict(name, reason string) {
	l.logger.Warn().
		Str("asset", name).
		Str("reason", reason).
		Msg("asset failed verification")
}

// RepairPass logs the start of a repair pass over conflicting assets.
func (l *Logger) RepairPass(pass, conflicts int) {
	l.logger.Info().
		Int("pass", pass).
		Int("conflicts", conflicts).
		Msg("repairing conflicting assets")
}

// InsufficientSpace logs a failed disk admission check.
func (l *Logger) InsufficientSpace(needed, free uint64) {
	l.logger.Warn().
		Uint64("needed_bytes", needed).
		Uint64("free_bytes", free).
		Msg("insufficient disk space")
}

// OperationCompleted logs the end of an engine operation.
func (l *Logger) OperationCompleted(runID, kind string, duration time.Duration, success bool) {
	l.logger.Info().
		Str("run_id", runID).
		Str("operation", kind).
		Float64("duration_seconds", duration.Seconds()).
		Bool("success", success).
		Msg("operation finished")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
