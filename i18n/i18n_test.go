package i18n

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestT_TranslatesWithTemplateData(t *testing.T) {
	require.NoError(t, Init("en", nil))

	data := map[string]any{"Concurrency": 3, "RuleName": "Dev team", "Threshold": 2}

	en := T(context.Background(), MsgViolationMaxAbsent, data)
	assert.Equal(t, `3 people would be absent at the same time under "Dev team" (maximum 2)`, en)

	pt := T(WithLocale(context.Background(), "pt"), MsgViolationMaxAbsent, data)
	assert.Contains(t, pt, "pessoas estariam ausentes")
	assert.Contains(t, pt, "máximo 2")
}

func TestT_UnknownMessageReturnsID(t *testing.T) {
	require.NoError(t, Init("en", nil))
	assert.Equal(t, "no.such.message", T(context.Background(), "no.such.message"))
}

func TestMatch_AcceptLanguage(t *testing.T) {
	require.NoError(t, Init("en", nil))

	assert.Equal(t, "pt", Match("pt-PT,pt;q=0.9,en;q=0.8"))
	assert.Equal(t, "en", Match("en-US"))
	assert.Equal(t, "en", Match("de-DE"))
	assert.Equal(t, "en", Match(""))
}
