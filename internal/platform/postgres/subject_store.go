package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/store"
)

const subjectColumns = `id, name, popularity_rank, value, view_count, recent_views, context,
	component_count, fully_analyzed, completed_at, last_updated`

// PostgresSubjectStore implements the store.SubjectStore interface using PostgreSQL.
// Components live in subject_components keyed by (subject_id, component_type);
// the summary columns on subjects are recomputed from that key set.
type PostgresSubjectStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSubjectStore creates a new PostgresSubjectStore.
// If logger is nil, a default logger will be used.
func NewPostgresSubjectStore(db store.DBTX, logger *slog.Logger) *PostgresSubjectStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSubjectStore{
		db:     db,
		logger: logger.With(slog.String("component", "subject_store")),
	}
}

// Ensure PostgresSubjectStore implements store.SubjectStore interface
var _ store.SubjectStore = (*PostgresSubjectStore)(nil)

// Save implements store.SubjectStore.Save.
func (s *PostgresSubjectStore) Save(ctx context.Context, subject *domain.Subject) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := subject.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	subjectContext := []byte(subject.Context)
	if len(subjectContext) == 0 {
		subjectContext = []byte("{}")
	}

	query := `
		INSERT INTO subjects (id, name, popularity_rank, value, view_count, recent_views, context, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			popularity_rank = EXCLUDED.popularity_rank,
			value = EXCLUDED.value,
			view_count = EXCLUDED.view_count,
			recent_views = EXCLUDED.recent_views,
			context = EXCLUDED.context,
			last_updated = EXCLUDED.last_updated
	`
	_, err := s.db.ExecContext(ctx, query,
		subject.ID,
		subject.Name,
		nullInt(subject.PopularityRank),
		nullFloat(subject.Value),
		subject.ViewCount,
		subject.RecentViews,
		string(subjectContext),
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to save subject",
			slog.String("subject_id", subject.ID),
			slog.String("error", err.Error()))
		return store.NewStoreError("subject", "save", "upsert failed", MapError(err))
	}

	log.Debug("subject saved", slog.String("subject_id", subject.ID))
	return nil
}

// Get implements store.SubjectStore.Get.
func (s *PostgresSubjectStore) Get(ctx context.Context, id string) (*domain.Subject, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	subject, err := scanSubject(s.db.QueryRowContext(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSubjectNotFound
	}
	if err != nil {
		log.Error("failed to get subject",
			slog.String("subject_id", id),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("subject", "get", "query failed", MapError(err))
	}

	components, err := s.loadComponents(ctx, id)
	if err != nil {
		return nil, err
	}
	subject.Analysis.Components = components
	return subject, nil
}

func (s *PostgresSubjectStore) loadComponents(
	ctx context.Context,
	subjectID string,
) (map[domain.ComponentType]domain.Component, error) {
	query := `
		SELECT component_type, content, generated_by, model_info, generated_at,
			coherence_score, to_json(coherence_conflicts)
		FROM subject_components
		WHERE subject_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, store.NewStoreError("subject", "get", "component query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	components := make(map[domain.ComponentType]domain.Component)
	for rows.Next() {
		var (
			componentType string
			c             domain.Component
			modelInfo     []byte
			conflicts     []byte
		)
		if err := rows.Scan(
			&componentType,
			&c.Content,
			&c.GeneratedBy,
			&modelInfo,
			&c.GeneratedAt,
			&c.CoherenceScore,
			&conflicts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan component row: %w", err)
		}
		if err := json.Unmarshal(modelInfo, &c.ModelInfo); err != nil {
			return nil, fmt.Errorf("failed to decode model info: %w", err)
		}
		if err := json.Unmarshal(conflicts, &c.CoherenceConflicts); err != nil {
			return nil, fmt.Errorf("failed to decode coherence conflicts: %w", err)
		}
		if len(c.ModelInfo) == 0 {
			c.ModelInfo = nil
		}
		if len(c.CoherenceConflicts) == 0 {
			c.CoherenceConflicts = nil
		}
		components[domain.ComponentType(componentType)] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating component rows: %w", err)
	}
	return components, nil
}

// SaveComponents implements store.SubjectStore.SaveComponents.
// When the store is bound to a *sql.DB the upserts and the summary update
// run in their own transaction; when bound to a transaction they join it.
func (s *PostgresSubjectStore) SaveComponents(
	ctx context.Context,
	subjectID string,
	components map[domain.ComponentType]domain.Component,
) (store.SubjectProgress, error) {
	if db, ok := s.db.(*sql.DB); ok {
		var progress store.SubjectProgress
		err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			var err error
			progress, err = NewPostgresSubjectStore(tx, s.logger).saveComponents(ctx, subjectID, components)
			return err
		})
		return progress, err
	}
	return s.saveComponents(ctx, subjectID, components)
}

func (s *PostgresSubjectStore) saveComponents(
	ctx context.Context,
	subjectID string,
	components map[domain.ComponentType]domain.Component,
) (store.SubjectProgress, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	progress := store.SubjectProgress{SubjectID: subjectID}

	// Serialize component writers on the subject row. NO KEY UPDATE leaves
	// task inserts, which take KEY SHARE through the foreign key, unblocked.
	var existing int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM subject_components WHERE subject_id = s.id)
		 FROM subjects s WHERE s.id = $1 FOR NO KEY UPDATE`, subjectID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return progress, store.ErrSubjectNotFound
	}
	if err != nil {
		return progress, store.NewStoreError("subject", "save_components", "lock failed", MapError(err))
	}

	types := make([]domain.ComponentType, 0, len(components))
	for t := range components {
		types = append(types, t)
	}
	domain.SortComponents(types)

	upsert := `
		INSERT INTO subject_components (subject_id, component_type, content, generated_by,
			model_info, generated_at, coherence_score, coherence_conflicts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id, component_type) DO UPDATE SET
			content = EXCLUDED.content,
			generated_by = EXCLUDED.generated_by,
			model_info = EXCLUDED.model_info,
			generated_at = EXCLUDED.generated_at,
			coherence_score = EXCLUDED.coherence_score,
			coherence_conflicts = EXCLUDED.coherence_conflicts
	`
	for _, t := range types {
		c := components[t]
		modelInfo, err := json.Marshal(c.ModelInfo)
		if err != nil {
			return progress, fmt.Errorf("failed to encode model info: %w", err)
		}
		if c.ModelInfo == nil {
			modelInfo = []byte("{}")
		}
		conflicts := c.CoherenceConflicts
		if conflicts == nil {
			conflicts = []string{}
		}
		if _, err := s.db.ExecContext(ctx, upsert,
			subjectID,
			string(t),
			c.Content,
			c.GeneratedBy,
			string(modelInfo),
			c.GeneratedAt.UTC(),
			c.CoherenceScore,
			conflicts,
		); err != nil {
			log.Error("failed to upsert component",
				slog.String("subject_id", subjectID),
				slog.String("component_type", string(t)),
				slog.String("error", err.Error()))
			return progress, store.NewStoreError("subject", "save_components", "upsert failed", MapError(err))
		}
	}

	summary := `
		WITH stored AS (
			SELECT COUNT(*) AS n FROM subject_components
			WHERE subject_id = $1 AND component_type = ANY($2::text[])
		)
		UPDATE subjects SET
			component_count = stored.n,
			fully_analyzed = fully_analyzed OR stored.n = $3,
			completed_at = COALESCE(completed_at, CASE WHEN stored.n = $3 THEN $4::timestamptz END),
			last_updated = $4
		FROM stored
		WHERE id = $1
		RETURNING component_count, fully_analyzed
	`
	var after int
	err = s.db.QueryRowContext(ctx, summary,
		subjectID,
		domain.ComponentStrings(domain.RequiredComponents),
		len(domain.RequiredComponents),
		time.Now().UTC(),
	).Scan(&progress.ComponentCount, &progress.FullyAnalyzed)
	if err != nil {
		return progress, store.NewStoreError("subject", "save_components", "summary update failed", MapError(err))
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subject_components WHERE subject_id = $1`, subjectID).Scan(&after); err != nil {
		return progress, store.NewStoreError("subject", "save_components", "count failed", MapError(err))
	}
	progress.Added = after - existing

	log.Debug("components saved",
		slog.String("subject_id", subjectID),
		slog.Int("written", len(types)),
		slog.Int("added", progress.Added),
		slog.Int("component_count", progress.ComponentCount),
		slog.Bool("fully_analyzed", progress.FullyAnalyzed))
	return progress, nil
}

// ListIncomplete implements store.SubjectStore.ListIncomplete.
func (s *PostgresSubjectStore) ListIncomplete(
	ctx context.Context,
	afterID string,
	limit int,
) ([]*domain.Subject, error) {
	q := psql.Select(subjectColumns).
		From("subjects").
		Where(sq.Eq{"fully_analyzed": false}).
		OrderBy("id")
	if afterID != "" {
		q = q.Where(sq.Gt{"id": afterID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build incomplete subjects query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("subject", "list_incomplete", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var subjects []*domain.Subject
	for rows.Next() {
		subject, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subject row: %w", err)
		}
		subjects = append(subjects, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subject rows: %w", err)
	}
	return subjects, nil
}

// Counts implements store.SubjectStore.Counts.
func (s *PostgresSubjectStore) Counts(ctx context.Context) (store.SubjectCounts, error) {
	query, args, err := psql.
		Select("COUNT(*)", "COUNT(*) FILTER (WHERE fully_analyzed)").
		From("subjects").
		ToSql()
	if err != nil {
		return store.SubjectCounts{}, fmt.Errorf("failed to build subject count query: %w", err)
	}

	var counts store.SubjectCounts
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&counts.Total, &counts.Analyzed); err != nil {
		return store.SubjectCounts{}, store.NewStoreError("subject", "count", "query failed", MapError(err))
	}
	return counts, nil
}

func scanSubject(row rowScanner) (*domain.Subject, error) {
	var (
		subject        domain.Subject
		popularityRank sql.NullInt64
		value          sql.NullFloat64
		subjectContext []byte
		completedAt    sql.NullTime
	)
	err := row.Scan(
		&subject.ID,
		&subject.Name,
		&popularityRank,
		&value,
		&subject.ViewCount,
		&subject.RecentViews,
		&subjectContext,
		&subject.Analysis.ComponentCount,
		&subject.Analysis.FullyAnalyzed,
		&completedAt,
		&subject.Analysis.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	if popularityRank.Valid {
		rank := int(popularityRank.Int64)
		subject.PopularityRank = &rank
	}
	if value.Valid {
		v := value.Float64
		subject.Value = &v
	}
	if completedAt.Valid {
		ct := completedAt.Time
		subject.Analysis.CompletedAt = &ct
	}
	if len(subjectContext) > 0 && string(subjectContext) != "{}" {
		subject.Context = json.RawMessage(subjectContext)
	}
	return &subject, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
