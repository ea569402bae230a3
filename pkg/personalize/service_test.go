package personalize_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendwell/personalize/pkg/personalize"
	"github.com/tendwell/personalize/pkg/personalize/repo/memory"
)

func TestNew(t *testing.T) {
	t.Run("with repository", func(t *testing.T) {
		svc, err := personalize.New(personalize.WithRepository(memory.New()))
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("without repository should fail", func(t *testing.T) {
		svc, err := personalize.New()
		require.Error(t, err)
		assert.Nil(t, svc)
		assert.Contains(t, err.Error(), "repository is required")
	})
}

func TestCreateContentItemValidation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	var validationErr *personalize.ValidationError

	_, err := svc.CreateContentItem(ctx, personalize.CreateContentItemRequest{Title: "no type"})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "type", validationErr.Field)

	_, err = svc.CreateContentItem(ctx, personalize.CreateContentItemRequest{Type: personalize.ContentTypeHero})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "title", validationErr.Field)
}

func TestCreateExperimentValidation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	var validationErr *personalize.ValidationError

	_, err := svc.CreateExperiment(ctx, personalize.CreateExperimentRequest{
		ContentType:       personalize.ContentTypeHero,
		TrafficAllocation: 50,
	})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "name", validationErr.Field)

	_, err = svc.CreateExperiment(ctx, personalize.CreateExperimentRequest{
		Name:              "over-allocated",
		ContentType:       personalize.ContentTypeHero,
		TrafficAllocation: 101,
	})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "traffic_allocation", validationErr.Field)

	_, err = svc.CreateExperiment(ctx, personalize.CreateExperimentRequest{
		Name:              "negative allocation",
		ContentType:       personalize.ContentTypeHero,
		TrafficAllocation: -1,
	})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "traffic_allocation", validationErr.Field)
}

func TestCreateExperimentWithTargets(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	experiment, err := svc.CreateExperiment(ctx, personalize.CreateExperimentRequest{
		Name:              "targeted",
		ContentType:       personalize.ContentTypeHero,
		TrafficAllocation: 50,
		Targets: []personalize.TargetSpec{
			{Persona: personalize.PersonaDonor, FunnelStage: personalize.StageDecision},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, personalize.ExperimentStatusDraft, experiment.Status)
	require.Len(t, experiment.Targets, 1)
	assert.Equal(t, personalize.PersonaDonor, experiment.Targets[0].Persona)

	err = svc.AddTarget(ctx, experiment.ID, personalize.TargetSpec{
		Persona: personalize.PersonaDonor, FunnelStage: personalize.StageDecision,
	})
	var validationErr *personalize.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.ErrorIs(t, err, personalize.ErrDuplicateTarget)
}

func TestAddVariantValidation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	experiment, err := svc.CreateExperiment(ctx, personalize.CreateExperimentRequest{
		Name:              "hero experiment",
		ContentType:       personalize.ContentTypeHero,
		TrafficAllocation: 50,
	})
	require.NoError(t, err)

	var validationErr *personalize.ValidationError

	t.Run("negative weight", func(t *testing.T) {
		_, err := svc.AddVariant(ctx, personalize.AddVariantRequest{
			ExperimentID:  experiment.ID,
			TrafficWeight: -1,
		})
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "traffic_weight", validationErr.Field)
	})

	t.Run("unknown experiment", func(t *testing.T) {
		_, err := svc.AddVariant(ctx, personalize.AddVariantRequest{
			ExperimentID:  uuid.New(),
			TrafficWeight: 50,
		})
		assert.ErrorIs(t, err, personalize.ErrExperimentNotFound)
	})

	t.Run("empty config payload", func(t *testing.T) {
		_, err := svc.AddVariant(ctx, personalize.AddVariantRequest{
			ExperimentID:  experiment.ID,
			TrafficWeight: 50,
			Config:        &personalize.VariantConfig{},
		})
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "config", validationErr.Field)
	})

	t.Run("config type mismatch", func(t *testing.T) {
		_, err := svc.AddVariant(ctx, personalize.AddVariantRequest{
			ExperimentID:  experiment.ID,
			TrafficWeight: 50,
			Config: &personalize.VariantConfig{
				CTA: &personalize.CTAVariation{Label: "Give now"},
			},
		})
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "config", validationErr.Field)
	})

	t.Run("dangling linked item", func(t *testing.T) {
		missing := uuid.New()
		_, err := svc.AddVariant(ctx, personalize.AddVariantRequest{
			ExperimentID:        experiment.ID,
			TrafficWeight:       50,
			LinkedContentItemID: &missing,
		})
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "linked_content_item_id", validationErr.Field)
	})

	t.Run("linked item type mismatch", func(t *testing.T) {
		cta, err := svc.CreateContentItem(ctx, personalize.CreateContentItemRequest{
			Type:     personalize.ContentTypeCTA,
			Title:    "Give now",
			IsActive: true,
		})
		require.NoError(t, err)

		_, err = svc.AddVariant(ctx, personalize.AddVariantRequest{
			ExperimentID:        experiment.ID,
			TrafficWeight:       50,
			LinkedContentItemID: &cta.ID,
		})
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "linked_content_item_id", validationErr.Field)
	})
}

func TestAddVariantCompletedExperiment(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	experiment := newActiveExperiment(t, svc, 50, 50, 50)

	require.NoError(t, svc.UpdateExperimentStatus(ctx, experiment.ID, personalize.ExperimentStatusCompleted))

	_, err := svc.AddVariant(ctx, personalize.AddVariantRequest{
		ExperimentID:  experiment.ID,
		TrafficWeight: 50,
	})
	assert.ErrorIs(t, err, personalize.ErrExperimentNotEditable)
}

func TestActivationValidation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	var validationErr *personalize.ValidationError

	t.Run("no variants", func(t *testing.T) {
		experiment, err := svc.CreateExperiment(ctx, personalize.CreateExperimentRequest{
			Name:              "empty",
			ContentType:       personalize.ContentTypeHero,
			TrafficAllocation: 50,
		})
		require.NoError(t, err)

		err = svc.UpdateExperimentStatus(ctx, experiment.ID, personalize.ExperimentStatusActive)
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "variants", validationErr.Field)
	})

	t.Run("zero total weight", func(t *testing.T) {
		experiment, err := svc.CreateExperiment(ctx, personalize.CreateExperimentRequest{
			Name:              "weightless",
			ContentType:       personalize.ContentTypeCTA,
			TrafficAllocation: 50,
		})
		require.NoError(t, err)
		_, err = svc.AddVariant(ctx, personalize.AddVariantRequest{
			ExperimentID:  experiment.ID,
			TrafficWeight: 0,
		})
		require.NoError(t, err)

		err = svc.UpdateExperimentStatus(ctx, experiment.ID, personalize.ExperimentStatusActive)
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "variants", validationErr.Field)
	})
}

func TestActivationSlotConflict(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	// First experiment occupies the (hero, donor, decision) slot.
	newActiveExperimentWithTargets(t, svc, personalize.TargetSpec{
		Persona: personalize.PersonaDonor, FunnelStage: personalize.StageDecision,
	})

	t.Run("overlapping target rejected", func(t *testing.T) {
		second := createDraftExperiment(t, svc, personalize.TargetSpec{
			Persona: personalize.PersonaDonor, FunnelStage: personalize.StageDecision,
		})
		err := svc.UpdateExperimentStatus(ctx, second.ID, personalize.ExperimentStatusActive)
		var validationErr *personalize.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "targets", validationErr.Field)
	})

	t.Run("untargeted experiment overlaps everything", func(t *testing.T) {
		second := createDraftExperiment(t, svc)
		err := svc.UpdateExperimentStatus(ctx, second.ID, personalize.ExperimentStatusActive)
		var validationErr *personalize.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("disjoint target activates", func(t *testing.T) {
		second := createDraftExperiment(t, svc, personalize.TargetSpec{
			Persona: personalize.PersonaStudent, FunnelStage: personalize.StageAwareness,
		})
		require.NoError(t, svc.UpdateExperimentStatus(ctx, second.ID, personalize.ExperimentStatusActive))
	})
}

func createDraftExperiment(t *testing.T, svc personalize.Service, targets ...personalize.TargetSpec) *personalize.Experiment {
	t.Helper()
	ctx := context.Background()

	experiment, err := svc.CreateExperiment(ctx, personalize.CreateExperimentRequest{
		Name:              "hero draft",
		ContentType:       personalize.ContentTypeHero,
		TrafficAllocation: 50,
		Targets:           targets,
	})
	require.NoError(t, err)
	_, err = svc.AddVariant(ctx, personalize.AddVariantRequest{
		ExperimentID:  experiment.ID,
		TrafficWeight: 100,
	})
	require.NoError(t, err)
	return experiment
}

func newActiveExperimentWithTargets(t *testing.T, svc personalize.Service, targets ...personalize.TargetSpec) *personalize.Experiment {
	t.Helper()
	ctx := context.Background()

	experiment := createDraftExperiment(t, svc, targets...)
	require.NoError(t, svc.UpdateExperimentStatus(ctx, experiment.ID, personalize.ExperimentStatusActive))
	return experiment
}

func TestCreateOverrideValidation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	t.Run("unknown content item", func(t *testing.T) {
		_, err := svc.CreateOverride(ctx, personalize.SaveOverrideRequest{
			ContentItemID: uuid.New(),
			IsVisible:     true,
		})
		var validationErr *personalize.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "content_item_id", validationErr.Field)
	})

	t.Run("duplicate triple", func(t *testing.T) {
		item := createHeroItem(t, svc, "Welcome")
		donor := personalize.PersonaDonor

		_, err := svc.CreateOverride(ctx, personalize.SaveOverrideRequest{
			ContentItemID: item.ID,
			Persona:       &donor,
			IsVisible:     true,
		})
		require.NoError(t, err)

		_, err = svc.CreateOverride(ctx, personalize.SaveOverrideRequest{
			ContentItemID: item.ID,
			Persona:       &donor,
			IsVisible:     false,
		})
		var validationErr *personalize.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.ErrorIs(t, err, personalize.ErrDuplicateOverride)
	})
}

func TestCountAssignments(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	experiment := newActiveExperiment(t, svc, 100, 50, 50)

	for i := 0; i < 200; i++ {
		_, err := svc.Assign(ctx, experiment, visitor(uuid.NewString()))
		require.NoError(t, err)
	}

	counts, err := svc.CountAssignments(ctx, experiment.ID)
	require.NoError(t, err)
	require.Len(t, counts, 2)

	var total int64
	for _, c := range counts {
		assert.Equal(t, experiment.ID, c.ExperimentID)
		assert.Positive(t, c.Count)
		total += c.Count
	}
	assert.Equal(t, int64(200), total)
}
