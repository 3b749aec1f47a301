package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"threatmesh/pkg/threat"
)

// PostgresStore implements RecordStore, CorrelationStore, and PatternStore
// on a single Postgres database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, configures the pool, and runs migrations.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS threat_records (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		external_id TEXT,
		content_hash VARCHAR(64) NOT NULL,
		threat_type TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'medium',
		confidence INTEGER NOT NULL DEFAULT 50 CHECK (confidence >= 0 AND confidence <= 100),
		status TEXT NOT NULL DEFAULT 'active',
		category TEXT,
		target_type TEXT NOT NULL,
		target_value TEXT NOT NULL,
		target_network TEXT,
		indicators JSONB NOT NULL DEFAULT '[]',
		indicator_values TEXT[] NOT NULL DEFAULT '{}',
		attribution JSONB,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		tags TEXT[] NOT NULL DEFAULT '{}',
		first_seen TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		last_seen TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		source_id TEXT,
		source_type TEXT,
		source_reliability DOUBLE PRECISION DEFAULT 0,
		correlated_threats TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_threat_records_hash ON threat_records(content_hash);
	CREATE INDEX IF NOT EXISTS idx_threat_records_target ON threat_records(target_value, target_type);
	CREATE INDEX IF NOT EXISTS idx_threat_records_indicators ON threat_records USING GIN(indicator_values);
	CREATE INDEX IF NOT EXISTS idx_threat_records_tags ON threat_records USING GIN(tags);
	CREATE INDEX IF NOT EXISTS idx_threat_records_actor ON threat_records((attribution->>'actor'));
	CREATE INDEX IF NOT EXISTS idx_threat_records_campaign ON threat_records((attribution->>'campaign'));

	CREATE TABLE IF NOT EXISTS threat_correlations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		parent_threat_id UUID NOT NULL,
		child_threat_id UUID NOT NULL,
		correlation_type TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		evidence JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'confirmed',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_threat_correlations_unique
		ON threat_correlations(parent_threat_id, child_threat_id, correlation_type);
	CREATE INDEX IF NOT EXISTS idx_threat_correlations_parent ON threat_correlations(parent_threat_id);
	CREATE INDEX IF NOT EXISTS idx_threat_correlations_child ON threat_correlations(child_threat_id);

	CREATE TABLE IF NOT EXISTS threat_patterns (
		pattern_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		indicators JSONB NOT NULL DEFAULT '[]',
		threshold DOUBLE PRECISION NOT NULL,
		actions JSONB NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		times_triggered BIGINT NOT NULL DEFAULT 0,
		accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
		false_positives BIGINT NOT NULL DEFAULT 0,
		last_triggered TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`

	_, err := s.db.Exec(query)
	return err
}

const recordColumns = `id, COALESCE(external_id,''), content_hash, threat_type, severity, confidence,
	status, COALESCE(category,''), target_type, target_value, COALESCE(target_network,''),
	indicators, attribution, title, description, tags, first_seen, last_seen,
	COALESCE(source_id,''), COALESCE(source_type,''), source_reliability, correlated_threats, created_at`

func (s *PostgresStore) scanRecord(row interface{ Scan(...interface{}) error }) (*threat.ThreatRecord, error) {
	rec := &threat.ThreatRecord{}
	var indicatorsJSON []byte
	var attributionJSON []byte
	err := row.Scan(
		&rec.ID, &rec.ExternalID, &rec.ContentHash, &rec.Type, &rec.Severity, &rec.Confidence,
		&rec.Status, &rec.Category, &rec.Target.Type, &rec.Target.Value, &rec.Target.Network,
		&indicatorsJSON, &attributionJSON, &rec.Context.Title, &rec.Context.Description,
		pq.Array(&rec.Context.Tags), &rec.Timeline.FirstSeen, &rec.Timeline.LastSeen,
		&rec.Source.ID, &rec.Source.Type, &rec.Source.Reliability,
		pq.Array(&rec.CorrelatedThreats), &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(indicatorsJSON) > 0 {
		if err := json.Unmarshal(indicatorsJSON, &rec.Indicators); err != nil {
			return nil, fmt.Errorf("decode indicators: %w", err)
		}
	}
	if len(attributionJSON) > 0 {
		attr := &threat.Attribution{}
		if err := json.Unmarshal(attributionJSON, attr); err != nil {
			return nil, fmt.Errorf("decode attribution: %w", err)
		}
		rec.Attribution = attr
	}
	return rec, nil
}

// FindByID fetches a single record.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*threat.ThreatRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM threat_records WHERE id = $1`, id)
	rec, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find by id: %v", ErrUnavailable, err)
	}
	return rec, nil
}

// FindByFilter runs a disjunctive candidate query, ordered by id for
// deterministic iteration.
func (s *PostgresStore) FindByFilter(ctx context.Context, f Filter, limit int) ([]*threat.ThreatRecord, error) {
	where, args := buildWhere(f)
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM threat_records %s ORDER BY id LIMIT $%d`,
		recordColumns, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: find by filter: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []*threat.ThreatRecord
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", ErrUnavailable, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", ErrUnavailable, err)
	}
	return out, nil
}

func buildWhere(f Filter) (string, []interface{}) {
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var disjuncts []string
	for _, c := range f.Clauses {
		if c.empty() {
			continue
		}
		var conds []string
		if c.ContentHash != "" {
			conds = append(conds, "content_hash = "+next(c.ContentHash))
		}
		if c.TargetValue != "" {
			conds = append(conds, "target_value = "+next(c.TargetValue))
		}
		if c.TargetType != "" {
			conds = append(conds, "target_type = "+next(c.TargetType))
		}
		if c.TitleContains != "" {
			conds = append(conds, "title ILIKE "+next("%"+escapeLike(c.TitleContains)+"%"))
		}
		if len(c.AnyIndicatorValue) > 0 {
			conds = append(conds, "indicator_values && "+next(pq.Array(c.AnyIndicatorValue))+"::text[]")
		}
		if len(c.AnyTag) > 0 {
			conds = append(conds, "tags && "+next(pq.Array(c.AnyTag))+"::text[]")
		}
		if c.Actor != "" {
			conds = append(conds, "attribution->>'actor' = "+next(c.Actor))
		}
		if c.Campaign != "" {
			conds = append(conds, "attribution->>'campaign' = "+next(c.Campaign))
		}
		if c.SourceType != "" {
			conds = append(conds, "source_type = "+next(c.SourceType))
		}
		if c.Category != "" {
			conds = append(conds, "category = "+next(c.Category))
		}
		disjuncts = append(disjuncts, "("+strings.Join(conds, " AND ")+")")
	}

	var guards []string
	if len(disjuncts) > 0 {
		guards = append(guards, "("+strings.Join(disjuncts, " OR ")+")")
	}
	if f.Status != "" {
		guards = append(guards, "status = "+next(string(f.Status)))
	}
	if f.ExcludeID != "" {
		guards = append(guards, "id <> "+next(f.ExcludeID))
	}
	if len(guards) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(guards, " AND "), args
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// Insert persists a new record and returns the assigned id.
func (s *PostgresStore) Insert(ctx context.Context, rec *threat.ThreatRecord) (string, error) {
	indicatorsJSON, err := json.Marshal(rec.Indicators)
	if err != nil {
		return "", fmt.Errorf("encode indicators: %w", err)
	}
	var attributionJSON interface{}
	if rec.Attribution != nil {
		b, err := json.Marshal(rec.Attribution)
		if err != nil {
			return "", fmt.Errorf("encode attribution: %w", err)
		}
		attributionJSON = b
	}
	indicatorValues := make([]string, 0, len(rec.Indicators))
	for _, ind := range rec.Indicators {
		indicatorValues = append(indicatorValues, ind.Value)
	}

	query := `
	INSERT INTO threat_records (
		external_id, content_hash, threat_type, severity, confidence, status, category,
		target_type, target_value, target_network, indicators, indicator_values,
		attribution, title, description, tags, first_seen, last_seen,
		source_id, source_type, source_reliability, correlated_threats
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	RETURNING id, created_at`

	err = s.db.QueryRowContext(ctx, query,
		rec.ExternalID, rec.ContentHash, rec.Type, rec.Severity, rec.Confidence, rec.Status,
		nullIfEmpty(rec.Category), rec.Target.Type, rec.Target.Value, nullIfEmpty(rec.Target.Network),
		indicatorsJSON, pq.Array(indicatorValues), attributionJSON,
		rec.Context.Title, rec.Context.Description, textArray(rec.Context.Tags),
		rec.Timeline.FirstSeen, rec.Timeline.LastSeen,
		nullIfEmpty(rec.Source.ID), nullIfEmpty(rec.Source.Type), rec.Source.Reliability,
		textArray(rec.CorrelatedThreats),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("%w: insert record: %v", ErrUnavailable, err)
	}
	return rec.ID, nil
}

// textArray wraps a string slice for a NOT NULL text[] column. pq.Array
// encodes a nil slice as SQL NULL, so nil must become the empty array here.
func textArray(vals []string) interface{} {
	if vals == nil {
		vals = []string{}
	}
	return pq.Array(vals)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var updatableColumns = map[string]string{
	"severity":   "severity",
	"status":     "status",
	"confidence": "confidence",
	"category":   "category",
	"last_seen":  "last_seen",
}

// UpdateFields applies a partial update over the whitelisted columns.
func (s *PostgresStore) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	var sets []string
	args := []interface{}{id}
	for k, v := range fields {
		col, ok := updatableColumns[k]
		if !ok {
			return fmt.Errorf("update field %q not supported", k)
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	query := fmt.Sprintf("UPDATE threat_records SET %s WHERE id = $1", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update fields: %v", ErrUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

var setColumns = map[string]string{
	"tags":               "tags",
	"correlated_threats": "correlated_threats",
}

// AddToSet appends value to an array column iff absent. Idempotent under
// concurrent re-application.
func (s *PostgresStore) AddToSet(ctx context.Context, id, field, value string) error {
	col, ok := setColumns[field]
	if !ok {
		return fmt.Errorf("set field %q not supported", field)
	}
	query := fmt.Sprintf(
		"UPDATE threat_records SET %s = array_append(%s, $2) WHERE id = $1 AND NOT ($2 = ANY(%s))",
		col, col, col)
	if _, err := s.db.ExecContext(ctx, query, id, value); err != nil {
		return fmt.Errorf("%w: add to set: %v", ErrUnavailable, err)
	}
	return nil
}

// InsertEdge persists a correlation edge; re-inserting the same
// (parent, child, type) tuple is a no-op.
func (s *PostgresStore) InsertEdge(ctx context.Context, edge *threat.ThreatCorrelation) error {
	evidenceJSON, err := json.Marshal(edge.Evidence)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	query := `
	INSERT INTO threat_correlations (parent_threat_id, child_threat_id, correlation_type, confidence, evidence, status)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (parent_threat_id, child_threat_id, correlation_type) DO NOTHING`
	_, err = s.db.ExecContext(ctx, query,
		edge.ParentThreatID, edge.ChildThreatID, edge.CorrelationType,
		edge.Confidence, evidenceJSON, edge.Status)
	if err != nil {
		return fmt.Errorf("%w: insert edge: %v", ErrUnavailable, err)
	}
	return nil
}

// EdgesFor returns all edges touching a record, parent or child side.
func (s *PostgresStore) EdgesFor(ctx context.Context, recordID string) ([]*threat.ThreatCorrelation, error) {
	query := `
	SELECT id, parent_threat_id, child_threat_id, correlation_type, confidence, evidence, status, created_at
	FROM threat_correlations
	WHERE parent_threat_id = $1 OR child_threat_id = $1
	ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("%w: edges for: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []*threat.ThreatCorrelation
	for rows.Next() {
		edge := &threat.ThreatCorrelation{}
		var evidenceJSON []byte
		if err := rows.Scan(&edge.ID, &edge.ParentThreatID, &edge.ChildThreatID,
			&edge.CorrelationType, &edge.Confidence, &evidenceJSON, &edge.Status, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan edge: %v", ErrUnavailable, err)
		}
		if err := json.Unmarshal(evidenceJSON, &edge.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
		out = append(out, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate edges: %v", ErrUnavailable, err)
	}
	return out, nil
}

// ActivePatterns returns every pattern with is_active set.
func (s *PostgresStore) ActivePatterns(ctx context.Context) ([]*threat.ThreatPattern, error) {
	query := `
	SELECT pattern_id, name, indicators, threshold, actions, is_active,
		times_triggered, accuracy, false_positives, last_triggered
	FROM threat_patterns WHERE is_active ORDER BY pattern_id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: active patterns: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []*threat.ThreatPattern
	for rows.Next() {
		p := &threat.ThreatPattern{}
		var indicatorsJSON, actionsJSON []byte
		var lastTriggered sql.NullTime
		if err := rows.Scan(&p.PatternID, &p.Name, &indicatorsJSON, &p.Threshold, &actionsJSON,
			&p.IsActive, &p.Statistics.TimesTriggered, &p.Statistics.Accuracy,
			&p.Statistics.FalsePositives, &lastTriggered); err != nil {
			return nil, fmt.Errorf("%w: scan pattern: %v", ErrUnavailable, err)
		}
		if err := json.Unmarshal(indicatorsJSON, &p.Indicators); err != nil {
			return nil, fmt.Errorf("decode pattern indicators: %w", err)
		}
		if err := json.Unmarshal(actionsJSON, &p.Actions); err != nil {
			return nil, fmt.Errorf("decode pattern actions: %w", err)
		}
		if lastTriggered.Valid {
			t := lastTriggered.Time
			p.Statistics.LastTriggered = &t
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate patterns: %v", ErrUnavailable, err)
	}
	return out, nil
}

// UpsertPattern creates or replaces a pattern definition, preserving
// accumulated statistics on conflict.
func (s *PostgresStore) UpsertPattern(ctx context.Context, p *threat.ThreatPattern) error {
	indicatorsJSON, err := json.Marshal(p.Indicators)
	if err != nil {
		return fmt.Errorf("encode pattern indicators: %w", err)
	}
	actionsJSON, err := json.Marshal(p.Actions)
	if err != nil {
		return fmt.Errorf("encode pattern actions: %w", err)
	}
	query := `
	INSERT INTO threat_patterns (pattern_id, name, indicators, threshold, actions, is_active)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (pattern_id) DO UPDATE SET
		name = EXCLUDED.name,
		indicators = EXCLUDED.indicators,
		threshold = EXCLUDED.threshold,
		actions = EXCLUDED.actions,
		is_active = EXCLUDED.is_active`
	if _, err := s.db.ExecContext(ctx, query,
		p.PatternID, p.Name, indicatorsJSON, p.Threshold, actionsJSON, p.IsActive); err != nil {
		return fmt.Errorf("%w: upsert pattern: %v", ErrUnavailable, err)
	}
	return nil
}

// RecordTrigger bumps the fire counter and stamps last_triggered.
func (s *PostgresStore) RecordTrigger(ctx context.Context, patternID string, at time.Time) error {
	query := `
	UPDATE threat_patterns
	SET times_triggered = times_triggered + 1, last_triggered = $2
	WHERE pattern_id = $1`
	if _, err := s.db.ExecContext(ctx, query, patternID, at); err != nil {
		return fmt.Errorf("%w: record trigger: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
