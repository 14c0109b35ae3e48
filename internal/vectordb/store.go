// Package vectordb manages the lifecycle of per-user content vectors: creation under quota,
// in-place re-embedding and retention cleanup.
package vectordb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/config"
	"github.com/Kocoro-lab/brandrag/internal/docstore"
	"github.com/Kocoro-lab/brandrag/internal/metrics"
	"github.com/Kocoro-lab/brandrag/internal/ratecontrol"
	"github.com/Kocoro-lab/brandrag/internal/tracing"
)

// Embedder produces a vector for text and never fails
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// Limiter decides whether userID may create another vector
type Limiter interface {
	Reserve(ctx context.Context, userID string) ratecontrol.Decision
}

// ConfigSource yields the current SystemConfig
type ConfigSource interface {
	Load(ctx context.Context) config.SystemConfig
}

// DuplicatePolicy controls Create when a vector already exists for the content ID
type DuplicatePolicy string

const (
	// DuplicateAllow stores another vector for the same content
	DuplicateAllow DuplicatePolicy = "allow"
	// DuplicateUpdate re-embeds the existing vector in place
	DuplicateUpdate DuplicatePolicy = "update"
)

// ParseDuplicatePolicy accepts "allow", "update" or empty (allow)
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", DuplicateAllow:
		return DuplicateAllow, nil
	case DuplicateUpdate:
		return DuplicateUpdate, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q", s)
}

// Store persists ContentVectors in a document store
type Store struct {
	docs     docstore.Store
	limiter  Limiter
	embedder Embedder
	source   ConfigSource
	policy   DuplicatePolicy
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithDuplicatePolicy sets the policy for repeated content IDs
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a vector store. A nil limiter admits every create.
func NewStore(docs docstore.Store, limiter Limiter, embedder Embedder, source ConfigSource, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		docs:     docs,
		limiter:  limiter,
		embedder: embedder,
		source:   source,
		policy:   DuplicateAllow,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create embeds in.TextContent and stores a new vector with version 1.
// A quota rejection returns a *RateLimitError.
func (s *Store) Create(ctx context.Context, in CreateInput) (err error) {
	ctx, span := tracing.StartSpan(ctx, "vectordb.create",
		attribute.String("user_id", in.UserID),
		attribute.String("content_type", string(in.ContentType)),
	)
	defer span.End()
	start := time.Now()
	defer func() { s.observe("create", start, err) }()

	if in.UserID == "" {
		return errors.New("user ID is required")
	}

	if s.policy == DuplicateUpdate && in.ContentID != "" {
		existing, err := s.FindByContentID(ctx, in.UserID, in.ContentID)
		switch {
		case err == nil:
			s.logger.Debug("Vector exists for content, updating in place",
				zap.String("user_id", in.UserID),
				zap.String("content_id", in.ContentID),
				zap.String("vector_id", existing.ID))
			return s.update(ctx, existing, in.TextContent, in.Metadata)
		case !errors.Is(err, ErrVectorNotFound):
			return err
		}
	}

	if s.limiter != nil {
		if d := s.limiter.Reserve(ctx, in.UserID); !d.Allowed {
			return &RateLimitError{UserID: in.UserID, Reason: d.Reason}
		}
	}

	now := s.now().UTC()
	meta := make(map[string]interface{}, len(in.Metadata)+3)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	s.clampPerformance(meta)
	meta[metaCreatedAt] = now
	meta[metaUpdatedAt] = now
	meta[metaVersion] = 1

	ct := in.ContentType
	if ct == "" {
		ct = ContentOther
	}
	vec := ContentVector{
		UserID:           in.UserID,
		ContentID:        in.ContentID,
		ContentType:      ct,
		Embedding:        s.embedder.Embed(ctx, in.TextContent),
		TextContent:      in.TextContent,
		SourceCollection: in.SourceCollection,
		SourceDocID:      in.SourceDocID,
		Metadata:         meta,
	}

	ref, err := s.docs.Add(ctx, CollectionFor(in.UserID), vec.document())
	if err != nil {
		return fmt.Errorf("store vector: %w", err)
	}
	s.logger.Debug("Stored content vector",
		zap.String("user_id", in.UserID),
		zap.String("content_id", in.ContentID),
		zap.String("vector_id", ref.ID),
		zap.Int("dimensions", len(vec.Embedding)))
	return nil
}

// Update re-embeds the vector for contentID. ErrVectorNotFound means nothing was written.
func (s *Store) Update(ctx context.Context, userID, contentID, text string, metadata map[string]interface{}) (err error) {
	ctx, span := tracing.StartSpan(ctx, "vectordb.update", attribute.String("user_id", userID))
	defer span.End()
	start := time.Now()
	defer func() { s.observe("update", start, err) }()

	existing, err := s.FindByContentID(ctx, userID, contentID)
	if err != nil {
		return err
	}
	return s.update(ctx, existing, text, metadata)
}

func (s *Store) update(ctx context.Context, existing *ContentVector, text string, metadata map[string]interface{}) error {
	if existing.UserID == "" {
		return fmt.Errorf("%s: vector has no owner", existing.ID)
	}
	embedding := s.embedder.Embed(ctx, text)

	meta := make(map[string]interface{}, len(existing.Metadata)+len(metadata))
	for k, v := range existing.Metadata {
		meta[k] = v
	}
	for k, v := range metadata {
		meta[k] = v
	}
	s.clampPerformance(meta)
	// createdAt is immutable; the stored value wins over anything the caller sent
	if created, ok := existing.Metadata[metaCreatedAt]; ok {
		meta[metaCreatedAt] = created
	} else {
		delete(meta, metaCreatedAt)
	}
	meta[metaUpdatedAt] = s.now().UTC()
	meta[metaVersion] = existing.Version + 1

	ref := docstore.Ref{Collection: CollectionFor(existing.UserID), ID: existing.ID}
	err := s.docs.Update(ctx, ref, map[string]interface{}{
		fieldTextContent: text,
		fieldEmbedding:   embedding,
		fieldMetadata:    meta,
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%s: %w", ref, ErrVectorNotFound)
		}
		return fmt.Errorf("update vector: %w", err)
	}
	return nil
}

// FindByContentID returns the first vector stored for contentID
func (s *Store) FindByContentID(ctx context.Context, userID, contentID string) (*ContentVector, error) {
	q := docstore.Query{}.Where(fieldContentID, docstore.OpEqual, contentID).WithLimit(1)
	docs, err := s.docs.Query(ctx, CollectionFor(userID), q)
	if err != nil {
		return nil, fmt.Errorf("find vector: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("content %s: %w", contentID, ErrVectorNotFound)
	}
	v, err := fromDocument(docs[0])
	if err != nil {
		return nil, err
	}
	if v.UserID == "" {
		v.UserID = userID
	}
	return &v, nil
}

// List returns all of userID's vectors in insertion order
func (s *Store) List(ctx context.Context, userID string) ([]ContentVector, error) {
	docs, err := s.docs.Query(ctx, CollectionFor(userID), docstore.Query{})
	if err != nil {
		return nil, err
	}
	out := make([]ContentVector, 0, len(docs))
	for _, d := range docs {
		v, err := fromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Cleanup deletes userID's vectors that are both older than the retention period and
// scored below the performance threshold. keepDays overrides the configured retention.
// It returns the number of vectors deleted, including batches committed before an error.
func (s *Store) Cleanup(ctx context.Context, userID string, keepDays *int) (deleted int, err error) {
	ctx, span := tracing.StartSpan(ctx, "vectordb.cleanup", attribute.String("user_id", userID))
	defer span.End()
	start := time.Now()
	defer func() {
		if err != nil {
			tracing.RecordError(span, err)
		}
		s.observe("cleanup", start, err)
	}()

	policy := s.source.Load(ctx).VectorCleanup
	if !policy.Enabled {
		s.logger.Debug("Vector cleanup disabled", zap.String("user_id", userID))
		return 0, nil
	}
	retention := policy.RetentionDays
	if keepDays != nil {
		retention = *keepDays
	}
	cutoff := s.now().UTC().AddDate(0, 0, -retention)

	q := docstore.Query{}.
		Where(fieldMetadata+"."+metaCreatedAt, docstore.OpLess, cutoff).
		Where(fieldMetadata+"."+metaPerformance, docstore.OpLess, policy.MinPerformanceThreshold)
	docs, err := s.docs.Query(ctx, CollectionFor(userID), q)
	if err != nil {
		return 0, fmt.Errorf("select expired vectors: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	refs := make([]docstore.Ref, len(docs))
	for i, d := range docs {
		refs[i] = d.Ref
	}
	for _, batch := range docstore.Chunk(refs, s.docs.MaxBatchSize()) {
		if err := s.docs.BatchDelete(ctx, batch); err != nil {
			return deleted, fmt.Errorf("delete expired vectors: %w", err)
		}
		deleted += len(batch)
		metrics.VectorsDeleted.Add(float64(len(batch)))
	}

	s.logger.Info("Cleaned up content vectors",
		zap.String("user_id", userID),
		zap.Int("deleted", deleted),
		zap.Int("retention_days", retention),
		zap.Float64("min_performance", policy.MinPerformanceThreshold))
	return deleted, nil
}

// Owners lists the users that hold at least one vector
func (s *Store) Owners(ctx context.Context) ([]string, error) {
	collections, err := s.docs.ListCollections(ctx, collectionSuffix)
	if err != nil {
		return nil, fmt.Errorf("list vector collections: %w", err)
	}
	var users []string
	for _, c := range collections {
		if uid, ok := ownerOf(c); ok {
			users = append(users, uid)
		}
	}
	sort.Strings(users)
	return users, nil
}

// clampPerformance keeps a caller-supplied score within [0,1] and drops non-numeric ones
func (s *Store) clampPerformance(meta map[string]interface{}) {
	raw, ok := meta[metaPerformance]
	if !ok || raw == nil {
		return
	}
	p, ok := docstore.Float(raw)
	if !ok {
		s.logger.Warn("Dropping non-numeric performance score", zap.Any("performance", raw))
		delete(meta, metaPerformance)
		return
	}
	switch {
	case p < 0:
		p = 0
	case p > 1:
		p = 1
	}
	meta[metaPerformance] = p
}

func (s *Store) observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		status = "rate_limited"
	case errors.Is(err, ErrVectorNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	metrics.RecordVectorOperation(op, status, time.Since(start).Seconds())
}
