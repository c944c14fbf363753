package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/spec-kit/staff-store/internal/auth"
	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/domain"
	"github.com/spec-kit/staff-store/internal/envelope"
	"github.com/spec-kit/staff-store/internal/events"
	"github.com/spec-kit/staff-store/internal/observability"
	"github.com/spec-kit/staff-store/internal/repository"
	apperrors "github.com/spec-kit/staff-store/pkg/util/errorutil"
)

// Tier names used in logs, metrics and status output.
const (
	TierPrimary = "primary"
	TierTab     = "tab"
	TierDurable = "durable"
	TierHandoff = "handoff"
)

// SessionSource resolves the caller's session.
type SessionSource interface {
	CurrentCapable(ctx context.Context) (*domain.Session, bool)
}

type anonymous struct{}

func (anonymous) CurrentCapable(context.Context) (*domain.Session, bool) { return nil, false }

// StoreDependencies are the tiers and collaborators of a StoreService. Any
// tier may be nil when the environment lacks it.
type StoreDependencies struct {
	Primary  repository.KVRepository
	Tab      repository.KVRepository
	Durable  repository.KVRepository
	Handoff  repository.KVRepository
	Sessions SessionSource
	Keys     *auth.KeyDeriver
	Codec    *envelope.Codec
	Bus      events.Bus
	Exporter *ExportService
	Source   string
}

// StoreService is the tiered record store. Reads return the first decodable
// value in tier order; writes go to the primary (enciphered when a key is
// available) and to every mirror as a plain document.
type StoreService struct {
	cfg     config.StoreConfig
	deps    StoreDependencies
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu           sync.Mutex
	primaryStale bool
	lastRevision int64
}

type tier struct {
	name string
	repo repository.KVRepository
}

// NewStoreService builds the store.
func NewStoreService(cfg config.StoreConfig, deps StoreDependencies, logger *zap.Logger, metrics *observability.Metrics) *StoreService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Sessions == nil {
		deps.Sessions = anonymous{}
	}
	return &StoreService{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.Named("store"),
		metrics: metrics,
		now:     time.Now,
	}
}

// ReadAll returns a fresh copy of the collection from the first tier holding
// a decodable value, or an empty collection.
func (s *StoreService) ReadAll(ctx context.Context) []domain.StaffRecord {
	key := s.currentKey(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	records, _, _ := s.read(ctx, key)
	return records
}

// ReadDocument is ReadAll plus the metadata of the winning tier.
func (s *StoreService) ReadDocument(ctx context.Context) ([]domain.StaffRecord, domain.Metadata, string) {
	key := s.currentKey(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(ctx, key)
}

// read expects the key resolved before s.mu is taken: session resolution may
// publish session-expired, and local handlers run synchronously.
func (s *StoreService) read(ctx context.Context, key *envelope.Key) ([]domain.StaffRecord, domain.Metadata, string) {
	for _, t := range s.readTiers() {
		raw, ok, err := s.get(ctx, t)
		if err != nil {
			s.logger.Warn("tier read failed", zap.String("tier", t.name), zap.Error(err))
			s.metrics.RecordTierFailure(t.name, "read")
			continue
		}
		if !ok {
			continue
		}
		records, meta, err := s.decodeDocument(raw, key)
		if err != nil {
			s.logger.Info("tier value unreadable", zap.String("tier", t.name), zap.Error(err))
			continue
		}
		s.metrics.RecordTierHit(t.name)
		return records, meta, t.name
	}
	return []domain.StaffRecord{}, domain.Metadata{Version: domain.DocumentVersion, Source: "default"}, ""
}

// WriteAll replaces the whole collection. Without a capable session the write
// is rejected before any tier is touched when RequireSession is set.
// Individual tier failures are logged; the write succeeds when at least one
// mirror accepted it.
func (s *StoreService) WriteAll(ctx context.Context, records []domain.StaffRecord) error {
	saved, meta, err := s.commit(ctx, records)
	if err != nil {
		return err
	}

	// notify outside the lock: local handlers may call back into the store
	if s.deps.Bus != nil {
		if err := s.deps.Bus.Publish(ctx, events.ProvidersUpdated(len(saved), meta.Revision)); err != nil {
			s.logger.Debug("providers-updated broadcast failed", zap.Error(err))
		}
	}
	if s.deps.Exporter != nil && s.deps.Exporter.AutoExport() {
		if path, err := s.deps.Exporter.Export(saved, meta); err != nil {
			s.logger.Warn("auto export failed", zap.Error(err))
		} else {
			s.logger.Info("public artifact exported", zap.String("path", path))
		}
	}
	return nil
}

func (s *StoreService) commit(ctx context.Context, records []domain.StaffRecord) ([]domain.StaffRecord, domain.Metadata, error) {
	var meta domain.Metadata
	session, capable := s.deps.Sessions.CurrentCapable(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !capable {
		session = nil
		if s.cfg.RequireSession {
			return nil, meta, apperrors.NewAuthRequired("an authenticated staff-management session is required to save")
		}
	}
	if err := validateRecords(records); err != nil {
		return nil, meta, err
	}

	key, err := s.deriveKey(session)
	if err != nil {
		return nil, meta, apperrors.NewInternalError(err)
	}

	now := s.now().UTC()
	records = s.deps.Codec.Repair(records)
	for i := range records {
		records[i].Category = domain.NormalizeCategory(records[i].Category)
		if records[i].UpdatedAt.IsZero() {
			records[i].UpdatedAt = now
		}
		if records[i].CreatedAt.IsZero() {
			records[i].CreatedAt = now
		}
	}

	meta = domain.Metadata{
		Version:           domain.DocumentVersion,
		LastUpdated:       now,
		EncryptionEnabled: key != nil,
		Revision:          s.nextRevision(now),
		Source:            s.deps.Source,
	}
	if session != nil {
		meta.AdminUser = session.Username
	}

	if s.deps.Primary != nil {
		s.writePrimary(ctx, records, key, meta)
	}

	mirrorDoc, err := plainDocument(records, meta)
	if err != nil {
		return nil, meta, apperrors.NewInternalError(err)
	}
	if err := s.writeMirrors(ctx, mirrorDoc); err != nil {
		return nil, meta, err
	}

	s.logger.Info("collection saved",
		zap.Int("records", len(records)),
		zap.Int64("revision", meta.Revision),
		zap.String("size", humanize.Bytes(uint64(len(mirrorDoc)))))
	return records, meta, nil
}

// Subscribe registers a local change listener.
func (s *StoreService) Subscribe(handler events.Handler) func() {
	if s.deps.Bus == nil {
		return func() {}
	}
	return s.deps.Bus.Subscribe(handler)
}

// DropTabCopy discards the tab-scoped mirror so the next read reaches the
// shared tiers. Used when another context reports a newer write.
func (s *StoreService) DropTabCopy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deps.Tab == nil {
		return nil
	}
	return s.deps.Tab.Delete(ctx, s.cfg.RecordKey)
}

// TierStatus describes what one tier currently holds.
type TierStatus struct {
	Tier     string        `json:"tier"`
	Present  bool          `json:"present"`
	Readable bool          `json:"readable"`
	Kind     envelope.Kind `json:"kind,omitempty"`
	Records  int           `json:"records"`
	Revision int64         `json:"revision,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Status inspects every configured tier without stopping at the first hit.
func (s *StoreService) Status(ctx context.Context) []TierStatus {
	key := s.currentKey(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []TierStatus
	for _, t := range s.allTiers() {
		st := TierStatus{Tier: t.name, Skipped: t.name == TierPrimary && s.primaryStale}
		raw, ok, err := s.get(ctx, t)
		switch {
		case err != nil:
			st.Error = err.Error()
		case ok:
			st.Present = true
			st.Kind = staffKind(raw)
			records, meta, derr := s.decodeDocument(raw, key)
			if derr != nil {
				st.Error = derr.Error()
			} else {
				st.Readable = true
				st.Records = len(records)
				st.Revision = meta.Revision
			}
		}
		out = append(out, st)
	}
	return out
}

func (s *StoreService) allTiers() []tier {
	candidates := []tier{
		{TierPrimary, s.deps.Primary},
		{TierTab, s.deps.Tab},
		{TierDurable, s.deps.Durable},
		{TierHandoff, s.deps.Handoff},
	}
	out := candidates[:0]
	for _, t := range candidates {
		if t.repo != nil {
			out = append(out, t)
		}
	}
	return out
}

func (s *StoreService) readTiers() []tier {
	tiers := s.allTiers()
	if !s.primaryStale || len(tiers) == 0 || tiers[0].name != TierPrimary {
		return tiers
	}
	return tiers[1:]
}

func (s *StoreService) mirrorTiers() []tier {
	var out []tier
	for _, t := range s.allTiers() {
		if t.name != TierPrimary {
			out = append(out, t)
		}
	}
	return out
}

func (s *StoreService) get(ctx context.Context, t tier) ([]byte, bool, error) {
	if t.name != TierPrimary {
		return t.repo.Get(ctx, s.cfg.RecordKey)
	}
	ctx, cancel := s.primaryContext(ctx)
	defer cancel()
	return t.repo.Get(ctx, s.cfg.RecordKey)
}

func (s *StoreService) primaryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.cfg.PrimaryTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (s *StoreService) writePrimary(ctx context.Context, records []domain.StaffRecord, key *envelope.Key, meta domain.Metadata) {
	doc, err := s.sealedDocument(records, key, meta)
	if err == nil {
		pctx, cancel := s.primaryContext(ctx)
		err = s.deps.Primary.Set(pctx, s.cfg.RecordKey, doc)
		cancel()
	}
	if err == nil {
		s.primaryStale = false
		return
	}

	s.logger.Warn("primary write failed; continuing with mirrors", zap.Error(err))
	s.metrics.RecordTierFailure(TierPrimary, "write")

	// a stale primary value would shadow the mirrors on the next read
	pctx, cancel := s.primaryContext(ctx)
	defer cancel()
	if derr := s.deps.Primary.Delete(pctx, s.cfg.RecordKey); derr != nil {
		s.logger.Warn("primary invalidation failed; skipping primary on reads", zap.Error(derr))
		s.metrics.RecordTierFailure(TierPrimary, "delete")
		s.primaryStale = true
	}
}

func (s *StoreService) writeMirrors(ctx context.Context, doc []byte) error {
	mirrors := s.mirrorTiers()
	var errs []error
	accepted := 0
	for _, t := range mirrors {
		if err := t.repo.Set(ctx, s.cfg.RecordKey, doc); err != nil {
			s.logger.Warn("mirror write failed", zap.String("tier", t.name), zap.Error(err))
			s.metrics.RecordTierFailure(t.name, "write")
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			continue
		}
		accepted++
	}
	if accepted == 0 {
		if len(mirrors) == 0 {
			errs = append(errs, errors.New("no mirror tiers configured"))
		}
		return apperrors.NewBackendUnavailable("mirror tiers", errors.Join(errs...))
	}
	return nil
}

func (s *StoreService) sealedDocument(records []domain.StaffRecord, key *envelope.Key, meta domain.Metadata) ([]byte, error) {
	staff, kind, err := s.deps.Codec.EncodeJSON(records, key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(domain.Document{
		Metadata:  meta,
		Staff:     staff,
		Encrypted: kind != envelope.KindPlain,
	})
}

func plainDocument(records []domain.StaffRecord, meta domain.Metadata) ([]byte, error) {
	staff, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	meta.EncryptionEnabled = false
	return json.Marshal(domain.Document{Metadata: meta, Staff: staff, Encrypted: false})
}

// decodeDocument accepts a full document or a bare staff value (envelope,
// array or opaque string) as older writers stored.
func (s *StoreService) decodeDocument(raw []byte, key *envelope.Key) ([]domain.StaffRecord, domain.Metadata, error) {
	meta := domain.Metadata{Version: domain.DocumentVersion}
	staff := raw
	if doc, ok := asDocument(raw); ok {
		meta = doc.Metadata
		staff = doc.Staff
	}
	records, err := s.deps.Codec.DecodeErr(staff, key)
	if err != nil {
		return nil, meta, err
	}
	return records, meta, nil
}

func asDocument(raw []byte) (domain.Document, bool) {
	var doc domain.Document
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return doc, false
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil || len(doc.Staff) == 0 {
		return doc, false
	}
	return doc, true
}

func staffKind(raw []byte) envelope.Kind {
	staff := raw
	if doc, ok := asDocument(raw); ok {
		staff = doc.Staff
	}
	kind, err := envelope.Detect(staff)
	if err != nil {
		return ""
	}
	return kind
}

func (s *StoreService) currentKey(ctx context.Context) *envelope.Key {
	session, ok := s.deps.Sessions.CurrentCapable(ctx)
	if !ok {
		return nil
	}
	key, err := s.deriveKey(session)
	if err != nil {
		s.logger.Warn("key derivation failed", zap.Error(err))
		return nil
	}
	return key
}

func (s *StoreService) deriveKey(session *domain.Session) (*envelope.Key, error) {
	if session == nil || s.deps.Keys == nil {
		return nil, nil
	}
	return s.deps.Keys.Derive(session)
}

// nextRevision is epoch milliseconds, bumped to stay strictly increasing.
func (s *StoreService) nextRevision(now time.Time) int64 {
	rev := now.UnixMilli()
	if rev <= s.lastRevision {
		rev = s.lastRevision + 1
	}
	s.lastRevision = rev
	return rev
}

func validateRecords(records []domain.StaffRecord) error {
	seen := make(map[string]int, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return apperrors.NewValidationError("record id is required", map[string]any{"index": i})
		}
		if prev, dup := seen[rec.ID]; dup {
			return apperrors.NewValidationError("duplicate record id", map[string]any{"id": rec.ID, "index": i, "first": prev})
		}
		seen[rec.ID] = i
	}
	return nil
}
