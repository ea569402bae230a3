package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendwell/personalize/pkg/personalize"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements personalize.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "override") {
				return personalize.ErrDuplicateOverride
			}
			if strings.Contains(pgErr.ConstraintName, "target") {
				return personalize.ErrDuplicateTarget
			}
			return fmt.Errorf("duplicate entry")
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Content item operations

func (r *Repository) CreateContentItem(ctx context.Context, item *personalize.ContentItem) error {
	query := `
		INSERT INTO content_item (
			id, content_type, title, description, image_ref, is_active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		item.ID, item.Type, item.Title, item.Description, item.ImageRef,
		item.IsActive, item.CreatedAt, item.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("create content item", err)
	}

	return nil
}

func (r *Repository) GetContentItem(ctx context.Context, id uuid.UUID) (*personalize.ContentItem, error) {
	query := `
		SELECT id, content_type, title, description, image_ref, is_active,
		       created_at, updated_at
		FROM content_item WHERE id = $1`

	var item personalize.ContentItem
	err := r.db.QueryRow(ctx, query, id).Scan(
		&item.ID, &item.Type, &item.Title, &item.Description, &item.ImageRef,
		&item.IsActive, &item.CreatedAt, &item.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, personalize.ErrContentNotFound
		}
		return nil, r.handlePostgresError("get content item", err)
	}

	return &item, nil
}

func (r *Repository) UpdateContentItem(ctx context.Context, item *personalize.ContentItem) error {
	query := `
		UPDATE content_item SET
			content_type = $2, title = $3, description = $4, image_ref = $5,
			is_active = $6, updated_at = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		item.ID, item.Type, item.Title, item.Description, item.ImageRef,
		item.IsActive, item.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update content item", err)
	}
	if tag.RowsAffected() == 0 {
		return personalize.ErrContentNotFound
	}

	return nil
}

func (r *Repository) ListContentItems(ctx context.Context, contentType personalize.ContentType) ([]*personalize.ContentItem, error) {
	query := `
		SELECT id, content_type, title, description, image_ref, is_active,
		       created_at, updated_at
		FROM content_item
		WHERE ($1 = '' OR content_type = $1)
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, string(contentType))
	if err != nil {
		return nil, r.handlePostgresError("list content items", err)
	}
	defer rows.Close()

	var items []*personalize.ContentItem
	for rows.Next() {
		var item personalize.ContentItem
		if err := rows.Scan(
			&item.ID, &item.Type, &item.Title, &item.Description, &item.ImageRef,
			&item.IsActive, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, r.handlePostgresError("scan content item", err)
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate content items", err)
	}

	return items, nil
}

// Visibility override operations

func (r *Repository) CreateOverride(ctx context.Context, override *personalize.VisibilityOverride) error {
	query := `
		INSERT INTO visibility_override (
			id, content_item_id, persona, funnel_stage, is_visible,
			title, description, image_ref, sort_order, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		override.ID, override.ContentItemID, override.Persona, override.FunnelStage,
		override.IsVisible, override.Title, override.Description, override.ImageRef,
		override.Order, override.CreatedAt, override.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("create override", err)
	}

	return nil
}

func (r *Repository) UpdateOverride(ctx context.Context, override *personalize.VisibilityOverride) error {
	query := `
		UPDATE visibility_override SET
			persona = $2, funnel_stage = $3, is_visible = $4, title = $5,
			description = $6, image_ref = $7, sort_order = $8, updated_at = $9
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		override.ID, override.Persona, override.FunnelStage, override.IsVisible,
		override.Title, override.Description, override.ImageRef, override.Order,
		override.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update override", err)
	}
	if tag.RowsAffected() == 0 {
		return personalize.ErrOverrideNotFound
	}

	return nil
}

func (r *Repository) DeleteOverride(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM visibility_override WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete override", err)
	}
	if tag.RowsAffected() == 0 {
		return personalize.ErrOverrideNotFound
	}
	return nil
}

func (r *Repository) ListOverridesForContent(ctx context.Context, contentItemID uuid.UUID) ([]*personalize.VisibilityOverride, error) {
	query := `
		SELECT id, content_item_id, persona, funnel_stage, is_visible,
		       title, description, image_ref, sort_order, created_at, updated_at
		FROM visibility_override
		WHERE content_item_id = $1
		ORDER BY sort_order, created_at`

	rows, err := r.db.Query(ctx, query, contentItemID)
	if err != nil {
		return nil, r.handlePostgresError("list overrides", err)
	}
	defer rows.Close()

	var overrides []*personalize.VisibilityOverride
	for rows.Next() {
		var o personalize.VisibilityOverride
		if err := rows.Scan(
			&o.ID, &o.ContentItemID, &o.Persona, &o.FunnelStage, &o.IsVisible,
			&o.Title, &o.Description, &o.ImageRef, &o.Order, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, r.handlePostgresError("scan override", err)
		}
		overrides = append(overrides, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate overrides", err)
	}

	return overrides, nil
}

// Experiment operations

func (r *Repository) CreateExperiment(ctx context.Context, experiment *personalize.Experiment) error {
	query := `
		INSERT INTO experiment (
			id, name, content_type, status, traffic_allocation, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		experiment.ID, experiment.Name, experiment.ContentType, experiment.Status,
		experiment.TrafficAllocation, experiment.CreatedAt, experiment.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("create experiment", err)
	}

	return nil
}

func (r *Repository) GetExperiment(ctx context.Context, id uuid.UUID) (*personalize.Experiment, error) {
	query := `
		SELECT id, name, content_type, status, traffic_allocation, created_at, updated_at
		FROM experiment WHERE id = $1`

	var experiment personalize.Experiment
	err := r.db.QueryRow(ctx, query, id).Scan(
		&experiment.ID, &experiment.Name, &experiment.ContentType, &experiment.Status,
		&experiment.TrafficAllocation, &experiment.CreatedAt, &experiment.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, personalize.ErrExperimentNotFound
		}
		return nil, r.handlePostgresError("get experiment", err)
	}

	if err := r.attachTargetsAndVariants(ctx, &experiment); err != nil {
		return nil, err
	}

	return &experiment, nil
}

func (r *Repository) UpdateExperiment(ctx context.Context, experiment *personalize.Experiment) error {
	query := `
		UPDATE experiment SET
			name = $2, content_type = $3, status = $4, traffic_allocation = $5,
			updated_at = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		experiment.ID, experiment.Name, experiment.ContentType, experiment.Status,
		experiment.TrafficAllocation, experiment.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update experiment", err)
	}
	if tag.RowsAffected() == 0 {
		return personalize.ErrExperimentNotFound
	}

	return nil
}

func (r *Repository) ListActiveExperiments(ctx context.Context, contentType personalize.ContentType) ([]*personalize.Experiment, error) {
	query := `
		SELECT id, name, content_type, status, traffic_allocation, created_at, updated_at
		FROM experiment
		WHERE status = $1 AND ($2 = '' OR content_type = $2)
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, personalize.ExperimentStatusActive, string(contentType))
	if err != nil {
		return nil, r.handlePostgresError("list active experiments", err)
	}
	defer rows.Close()

	var experiments []*personalize.Experiment
	for rows.Next() {
		var experiment personalize.Experiment
		if err := rows.Scan(
			&experiment.ID, &experiment.Name, &experiment.ContentType, &experiment.Status,
			&experiment.TrafficAllocation, &experiment.CreatedAt, &experiment.UpdatedAt); err != nil {
			return nil, r.handlePostgresError("scan experiment", err)
		}
		experiments = append(experiments, &experiment)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate experiments", err)
	}
	rows.Close()

	for _, experiment := range experiments {
		if err := r.attachTargetsAndVariants(ctx, experiment); err != nil {
			return nil, err
		}
	}

	return experiments, nil
}

func (r *Repository) attachTargetsAndVariants(ctx context.Context, experiment *personalize.Experiment) error {
	targetRows, err := r.db.Query(ctx,
		`SELECT experiment_id, persona, funnel_stage FROM experiment_target WHERE experiment_id = $1 ORDER BY persona, funnel_stage`,
		experiment.ID)
	if err != nil {
		return r.handlePostgresError("list targets", err)
	}
	defer targetRows.Close()

	for targetRows.Next() {
		var t personalize.ExperimentTarget
		if err := targetRows.Scan(&t.ExperimentID, &t.Persona, &t.FunnelStage); err != nil {
			return r.handlePostgresError("scan target", err)
		}
		experiment.Targets = append(experiment.Targets, t)
	}
	if err := targetRows.Err(); err != nil {
		return r.handlePostgresError("iterate targets", err)
	}

	variants, err := r.ListVariants(ctx, experiment.ID)
	if err != nil {
		return err
	}
	experiment.Variants = variants

	return nil
}

// Variant and target operations

func (r *Repository) CreateVariant(ctx context.Context, variant *personalize.Variant) error {
	config, err := marshalConfig(variant.Config)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO variant (
			id, experiment_id, name, traffic_weight, is_control,
			linked_content_item_id, config, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		variant.ID, variant.ExperimentID, variant.Name, variant.TrafficWeight,
		variant.IsControl, variant.LinkedContentItemID, config, variant.CreatedAt)

	if err != nil {
		return r.handlePostgresError("create variant", err)
	}

	return nil
}

func (r *Repository) UpdateVariant(ctx context.Context, variant *personalize.Variant) error {
	config, err := marshalConfig(variant.Config)
	if err != nil {
		return err
	}

	query := `
		UPDATE variant SET
			name = $2, traffic_weight = $3, is_control = $4,
			linked_content_item_id = $5, config = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		variant.ID, variant.Name, variant.TrafficWeight, variant.IsControl,
		variant.LinkedContentItemID, config)
	if err != nil {
		return r.handlePostgresError("update variant", err)
	}
	if tag.RowsAffected() == 0 {
		return personalize.ErrVariantNotFound
	}

	return nil
}

func (r *Repository) GetVariant(ctx context.Context, id uuid.UUID) (*personalize.Variant, error) {
	query := `
		SELECT id, experiment_id, name, traffic_weight, is_control,
		       linked_content_item_id, config, created_at
		FROM variant WHERE id = $1`

	variant, err := scanVariant(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, personalize.ErrVariantNotFound
		}
		return nil, r.handlePostgresError("get variant", err)
	}

	return variant, nil
}

func (r *Repository) ListVariants(ctx context.Context, experimentID uuid.UUID) ([]*personalize.Variant, error) {
	// Creation order is the stable walk order for weighted selection.
	query := `
		SELECT id, experiment_id, name, traffic_weight, is_control,
		       linked_content_item_id, config, created_at
		FROM variant WHERE experiment_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, experimentID)
	if err != nil {
		return nil, r.handlePostgresError("list variants", err)
	}
	defer rows.Close()

	var variants []*personalize.Variant
	for rows.Next() {
		variant, err := scanVariant(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan variant", err)
		}
		variants = append(variants, variant)
	}

	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate variants", err)
	}

	return variants, nil
}

func scanVariant(row pgx.Row) (*personalize.Variant, error) {
	var variant personalize.Variant
	var config []byte
	if err := row.Scan(
		&variant.ID, &variant.ExperimentID, &variant.Name, &variant.TrafficWeight,
		&variant.IsControl, &variant.LinkedContentItemID, &config, &variant.CreatedAt); err != nil {
		return nil, err
	}
	if len(config) > 0 {
		variant.Config = &personalize.VariantConfig{}
		if err := json.Unmarshal(config, variant.Config); err != nil {
			return nil, fmt.Errorf("decode variant config: %w", err)
		}
	}
	return &variant, nil
}

func marshalConfig(config *personalize.VariantConfig) ([]byte, error) {
	if config == nil {
		return nil, nil
	}
	data, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encode variant config: %w", err)
	}
	return data, nil
}

func (r *Repository) AddTarget(ctx context.Context, target *personalize.ExperimentTarget) error {
	query := `
		INSERT INTO experiment_target (experiment_id, persona, funnel_stage)
		VALUES ($1, $2, $3)`

	_, err := r.db.Exec(ctx, query, target.ExperimentID, target.Persona, target.FunnelStage)
	if err != nil {
		return r.handlePostgresError("add target", err)
	}

	return nil
}

func (r *Repository) RemoveTarget(ctx context.Context, target *personalize.ExperimentTarget) error {
	query := `
		DELETE FROM experiment_target
		WHERE experiment_id = $1 AND persona = $2 AND funnel_stage = $3`

	tag, err := r.db.Exec(ctx, query, target.ExperimentID, target.Persona, target.FunnelStage)
	if err != nil {
		return r.handlePostgresError("remove target", err)
	}
	if tag.RowsAffected() == 0 {
		return personalize.ErrExperimentNotFound
	}

	return nil
}

// Assignment operations

// InsertAssignmentIfAbsent relies on the assignment primary key for the
// at-most-one guarantee: ON CONFLICT DO NOTHING followed by a re-read of the
// winning row resolves concurrent first-touch races without locking.
func (r *Repository) InsertAssignmentIfAbsent(ctx context.Context, assignment *personalize.Assignment) (*personalize.Assignment, bool, error) {
	query := `
		INSERT INTO assignment (
			experiment_id, session_id, variant_id, persona, funnel_stage, assigned_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (experiment_id, session_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		assignment.ExperimentID, assignment.SessionID, assignment.VariantID,
		assignment.Persona, assignment.FunnelStage, assignment.AssignedAt)
	if err != nil {
		return nil, false, r.handlePostgresError("insert assignment", err)
	}

	if tag.RowsAffected() == 1 {
		inserted := *assignment
		return &inserted, true, nil
	}

	winner, err := r.GetAssignment(ctx, assignment.ExperimentID, assignment.SessionID)
	if err != nil {
		return nil, false, err
	}
	return winner, false, nil
}

func (r *Repository) GetAssignment(ctx context.Context, experimentID uuid.UUID, sessionID string) (*personalize.Assignment, error) {
	query := `
		SELECT experiment_id, session_id, variant_id, persona, funnel_stage, assigned_at
		FROM assignment WHERE experiment_id = $1 AND session_id = $2`

	var assignment personalize.Assignment
	err := r.db.QueryRow(ctx, query, experimentID, sessionID).Scan(
		&assignment.ExperimentID, &assignment.SessionID, &assignment.VariantID,
		&assignment.Persona, &assignment.FunnelStage, &assignment.AssignedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, personalize.ErrAssignmentNotFound
		}
		return nil, r.handlePostgresError("get assignment", err)
	}

	return &assignment, nil
}

func (r *Repository) CountAssignments(ctx context.Context, experimentID uuid.UUID) ([]personalize.AssignmentCount, error) {
	query := `
		SELECT experiment_id, variant_id, COUNT(*)
		FROM assignment WHERE experiment_id = $1
		GROUP BY experiment_id, variant_id
		ORDER BY variant_id`

	rows, err := r.db.Query(ctx, query, experimentID)
	if err != nil {
		return nil, r.handlePostgresError("count assignments", err)
	}
	defer rows.Close()

	var counts []personalize.AssignmentCount
	for rows.Next() {
		var c personalize.AssignmentCount
		if err := rows.Scan(&c.ExperimentID, &c.VariantID, &c.Count); err != nil {
			return nil, r.handlePostgresError("scan assignment count", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate assignment counts", err)
	}

	return counts, nil
}
