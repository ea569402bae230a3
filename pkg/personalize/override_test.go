package personalize_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/tendwell/personalize/pkg/personalize"
)

func strPtr(s string) *string { return &s }

func personaPtr(p personalize.Persona) *personalize.Persona { return &p }

func stagePtr(s personalize.FunnelStage) *personalize.FunnelStage { return &s }

func TestOverrideIndexPrecedence(t *testing.T) {
	contentID := uuid.New()

	specific := &personalize.VisibilityOverride{
		ID:            uuid.New(),
		ContentItemID: contentID,
		Persona:       personaPtr(personalize.PersonaDonor),
		FunnelStage:   stagePtr(personalize.StageAwareness),
		IsVisible:     true,
		Title:         strPtr("Thank You Donor"),
	}
	personaOnly := &personalize.VisibilityOverride{
		ID:            uuid.New(),
		ContentItemID: contentID,
		Persona:       personaPtr(personalize.PersonaDonor),
		IsVisible:     true,
		Title:         strPtr("Hello Donor"),
	}
	stageOnly := &personalize.VisibilityOverride{
		ID:            uuid.New(),
		ContentItemID: contentID,
		FunnelStage:   stagePtr(personalize.StageAwareness),
		IsVisible:     true,
		Title:         strPtr("Getting Started"),
	}
	wildcard := &personalize.VisibilityOverride{
		ID:            uuid.New(),
		ContentItemID: contentID,
		IsVisible:     true,
		Title:         strPtr("Welcome Everyone"),
	}

	tests := []struct {
		name      string
		overrides []*personalize.VisibilityOverride
		persona   personalize.Persona
		stage     personalize.FunnelStage
		want      *personalize.VisibilityOverride
	}{
		{
			name:      "fully specific wins over all",
			overrides: []*personalize.VisibilityOverride{wildcard, stageOnly, personaOnly, specific},
			persona:   personalize.PersonaDonor,
			stage:     personalize.StageAwareness,
			want:      specific,
		},
		{
			name:      "persona-specific beats stage-specific",
			overrides: []*personalize.VisibilityOverride{wildcard, stageOnly, personaOnly},
			persona:   personalize.PersonaDonor,
			stage:     personalize.StageAwareness,
			want:      personaOnly,
		},
		{
			name:      "stage-specific beats wildcard",
			overrides: []*personalize.VisibilityOverride{wildcard, stageOnly},
			persona:   personalize.PersonaParent,
			stage:     personalize.StageAwareness,
			want:      stageOnly,
		},
		{
			name:      "wildcard matches any pair",
			overrides: []*personalize.VisibilityOverride{wildcard},
			persona:   personalize.PersonaStudent,
			stage:     personalize.StageRetention,
			want:      wildcard,
		},
		{
			name:      "no match falls back to base",
			overrides: []*personalize.VisibilityOverride{specific},
			persona:   personalize.PersonaParent,
			stage:     personalize.StageDecision,
			want:      nil,
		},
		{
			name:      "removing the specific level falls to the next, never to base",
			overrides: []*personalize.VisibilityOverride{wildcard, personaOnly},
			persona:   personalize.PersonaDonor,
			stage:     personalize.StageAwareness,
			want:      personaOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := personalize.NewOverrideIndex(tt.overrides)
			got := ix.Lookup(tt.persona, tt.stage)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.NotNil(t, got)
			assert.Equal(t, tt.want.ID, got.ID)
		})
	}
}

func TestOverrideIndexMismatchedAxes(t *testing.T) {
	contentID := uuid.New()
	donorOnly := &personalize.VisibilityOverride{
		ID:            uuid.New(),
		ContentItemID: contentID,
		Persona:       personaPtr(personalize.PersonaDonor),
		IsVisible:     true,
	}

	ix := personalize.NewOverrideIndex([]*personalize.VisibilityOverride{donorOnly})

	assert.NotNil(t, ix.Lookup(personalize.PersonaDonor, personalize.StageDecision))
	assert.Nil(t, ix.Lookup(personalize.PersonaParent, personalize.StageDecision))
}
