package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/affinity/pkg/models"
)

func TestRecordValidator_LoadsEmbeddedSchemas(t *testing.T) {
	rv, err := NewRecordValidator()
	require.NoError(t, err)

	assert.Equal(t, []string{SchemaStyleProfile, SchemaTournamentSession, SchemaWeightVector}, rv.SchemaNames())
}

func TestRecordValidator_WeightVector(t *testing.T) {
	rv := MustRecordValidator()

	tests := []struct {
		name  string
		input interface{}
		valid bool
	}{
		{"defaults", models.DefaultWeights(), true},
		{"partial", models.WeightVector{models.DimensionStyle: 0.5}, true},
		{"above one", models.WeightVector{models.DimensionStyle: 1.5}, false},
		{"negative", models.WeightVector{models.DimensionHobby: -0.1}, false},
		{"unknown dimension", `{"humour": 0.3}`, false},
		{"empty", `{}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rv.Validate(SchemaWeightVector, tt.input)
			assert.Equal(t, tt.valid, res.Valid, res.Summary())
		})
	}
}

func TestRecordValidator_TournamentSession(t *testing.T) {
	rv := MustRecordValidator()

	session := &models.TournamentSession{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Category:         "footwear",
		Status:           models.TournamentActive,
		CurrentRound:     1,
		TotalRounds:      4,
		RemainingImages:  []uuid.UUID{uuid.New(), uuid.New()},
		EliminatedImages: []uuid.UUID{},
		CurrentMatchup:   &models.Matchup{Left: uuid.New(), Right: uuid.New(), Sequence: 1, PresentedAt: time.Now()},
		StartedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	assert.NoError(t, rv.Check(SchemaTournamentSession, session))

	session.Status = "paused"
	err := rv.Check(SchemaTournamentSession, session)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestRecordValidator_StyleProfile(t *testing.T) {
	rv := MustRecordValidator()

	categories := map[string]models.CategoryPreference{
		"footwear": {
			Champion:           uuid.New(),
			Finalist:           uuid.New(),
			TopChoices:         []uuid.UUID{uuid.New(), uuid.New()},
			PreferenceStrength: 0.8,
		},
	}
	assert.NoError(t, rv.Check(SchemaStyleProfile, categories))

	weak := categories["footwear"]
	weak.PreferenceStrength = 0.01
	categories["footwear"] = weak
	assert.Error(t, rv.Check(SchemaStyleProfile, categories))
}

func TestRecordValidator_UnknownSchema(t *testing.T) {
	rv := MustRecordValidator()

	res := rv.Validate("missing", `{}`)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "SCHEMA_NOT_FOUND", res.Errors[0].Code)
}
