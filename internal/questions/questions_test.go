package questions

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/models"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "vai_comparecer", Slugify("Vai comparecer?"))
	assert.Equal(t, "restricao_alimentar", Slugify("  Restrição   alimentar "))
	assert.Equal(t, "numero_de_criancas_2", Slugify("Número de crianças (2)"))
	assert.Equal(t, "", Slugify("???"))
}

func TestAnswerKey(t *testing.T) {
	assert.Equal(t, "meal", AnswerKey(models.Question{Key: " meal ", Label: "Main course"}, 0))
	assert.Equal(t, "main_course", AnswerKey(models.Question{Label: "Main course"}, 0))
	assert.Equal(t, "q_3", AnswerKey(models.Question{Label: "!!"}, 2))
}

func TestValidate_SelectIsCaseInsensitive(t *testing.T) {
	qs := models.Questions{{
		Label:    "Vai comparecer?",
		Type:     models.QuestionSelect,
		Required: true,
		Options:  []string{"Sim", "Não"},
	}}

	_, err := Validate(qs, map[string]any{"vai_comparecer": "talvez"})
	require.Error(t, err)
	assert.Equal(t, 422, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "Vai comparecer?")

	out, err := Validate(qs, map[string]any{"vai_comparecer": "sim"})
	require.NoError(t, err)
	assert.Equal(t, "sim", out["vai_comparecer"])

	_, err = Validate(qs, map[string]any{"vai_comparecer": "NÃO"})
	assert.NoError(t, err)
}

func TestValidate_Required(t *testing.T) {
	qs := models.Questions{{Key: "meal", Label: "Meal", Type: models.QuestionText, Required: true}}

	for name, answers := range map[string]map[string]any{
		"missing": {},
		"blank":   {"meal": "   "},
		"null":    {"meal": nil},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Validate(qs, answers)
			require.Error(t, err)
			assert.True(t, apperr.HasReason(err, apperr.ReasonInvalidAnswer))
		})
	}
}

func TestValidate_Number(t *testing.T) {
	qs := models.Questions{{Key: "kids", Label: "Children", Type: models.QuestionNumber}}

	for _, ok := range []any{2, 2.5, "3", "1,5", " 4.0 ", "-1", ".5", json.Number("2")} {
		_, err := Validate(qs, map[string]any{"kids": ok})
		assert.NoError(t, err, "%v", ok)
	}
	for _, bad := range []any{"two", true, []any{1}, "NaN", "Inf", "-inf", "1e5", "0x1p3", "1_000", math.NaN(), math.Inf(1)} {
		_, err := Validate(qs, map[string]any{"kids": bad})
		assert.Error(t, err, "%v", bad)
	}
}

func TestValidate_TextRejectsStructures(t *testing.T) {
	qs := models.Questions{{Key: "note", Label: "Note", Type: models.QuestionTextarea}}

	_, err := Validate(qs, map[string]any{"note": 42})
	assert.NoError(t, err)
	_, err = Validate(qs, map[string]any{"note": map[string]any{"a": 1}})
	assert.Error(t, err)
}

func TestValidate_SelectWithoutOptionsAcceptsAnything(t *testing.T) {
	qs := models.Questions{{Key: "song", Label: "Song", Type: models.QuestionSelect}}
	_, err := Validate(qs, map[string]any{"song": "anything"})
	assert.NoError(t, err)
}

func TestValidate_LegacyPositionalKeys(t *testing.T) {
	qs := models.Questions{
		{Label: "Meal", Type: models.QuestionText, Required: true},
		{Label: "Allergies", Type: models.QuestionText},
	}

	out, err := Validate(qs, map[string]any{"q_1": "fish", "q_2": "nuts"})
	require.NoError(t, err)
	assert.Equal(t, "fish", out["meal"])
	assert.Equal(t, "nuts", out["allergies"])
	assert.Equal(t, "fish", out["q_1"], "the original keys are kept")

	// zero-based keys from older clients
	out, err = Validate(qs, map[string]any{"q_0": "beef"})
	require.NoError(t, err)
	assert.Equal(t, "beef", out["meal"])
}

func TestValidate_NeverOverwritesExistingKey(t *testing.T) {
	qs := models.Questions{{Key: "meal", Label: "Meal", Type: models.QuestionText}}
	out, err := Validate(qs, map[string]any{"meal": "fish", "q_1": "beef"})
	require.NoError(t, err)
	assert.Equal(t, "fish", out["meal"])
}
