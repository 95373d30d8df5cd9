package llm

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/biokg/backend/pkg/logger"
)

// AuditLog appends one JSON line per LLM round-trip. A nil *AuditLog
// discards entries.
type AuditLog struct {
	log *zap.Logger
}

type AuditEntry struct {
	Purpose            string
	Model              string
	PMID               string
	SystemPrompt       string
	UserPrompt         string
	Response           string
	Duration           time.Duration
	FixAttempt         bool
	PreviousExtraction string
}

// NewAuditLog opens path for appending. An empty path returns nil.
func NewAuditLog(path string) (*AuditLog, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	l, err := logger.NewFileJSON(path)
	if err != nil {
		return nil, err
	}
	return &AuditLog{log: l}, nil
}

func (a *AuditLog) Record(e AuditEntry) {
	if a == nil {
		return
	}
	fields := []zap.Field{
		zap.String("purpose", e.Purpose),
		zap.String("model", e.Model),
		zap.Float64("duration", e.Duration.Seconds()),
		zap.Any("messages", []map[string]string{
			{"role": "system", "content": e.SystemPrompt},
			{"role": "user", "content": e.UserPrompt},
		}),
		zap.String("api_response", e.Response),
	}
	if e.PMID != "" {
		fields = append(fields, zap.String("pmid", e.PMID))
	}
	if e.FixAttempt {
		fields = append(fields,
			zap.Bool("fix_attempt", true),
			zap.String("previous_extraction", e.PreviousExtraction),
		)
	}
	a.log.Info("llm call", fields...)
}

func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	return a.log.Sync()
}
