package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/domain"
)

// ExportService produces the public artifact. The artifact is never
// enciphered: anonymous readers of the deployed file hold no key.
type ExportService struct {
	cfg    config.ExportConfig
	logger *zap.Logger
}

// NewExportService constructs the exporter.
func NewExportService(cfg config.ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FileName == "" {
		cfg.FileName = "staff-data.json"
	}
	return &ExportService{cfg: cfg, logger: logger.Named("export")}
}

// AutoExport reports whether every successful write should export.
func (e *ExportService) AutoExport() bool { return e.cfg.AutoExport }

// FileName is the artifact's download name.
func (e *ExportService) FileName() string { return e.cfg.FileName }

// Artifact renders {metadata, staff, encrypted:false} with 2-space indentation.
func (e *ExportService) Artifact(records []domain.StaffRecord, meta domain.Metadata) ([]byte, error) {
	staff, err := json.Marshal(domain.CloneRecords(records))
	if err != nil {
		return nil, fmt.Errorf("serialize records: %w", err)
	}
	if meta.Version == "" {
		meta.Version = domain.DocumentVersion
	}
	doc := domain.Document{Metadata: meta, Staff: staff, Encrypted: false}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render artifact: %w", err)
	}
	return append(out, '\n'), nil
}

// Export writes the artifact into the export directory and returns its path.
func (e *ExportService) Export(records []domain.StaffRecord, meta domain.Metadata) (string, error) {
	data, err := e.Artifact(records, meta)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(e.cfg.Dir, e.cfg.FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("replace artifact: %w", err)
	}
	e.logger.Debug("artifact written", zap.String("path", path), zap.Int("records", len(records)))
	return path, nil
}
