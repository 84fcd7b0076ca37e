package validation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
	"github.com/dmitrijs2005/changesetd/internal/server/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policy = `
p, role:administrator, *
p, role:editor, customize
p, role:editor, editor_can_see
`

var (
	admin  = authz.Actor{ID: "1", Roles: []string{"administrator"}}
	editor = authz.Actor{ID: "2", Roles: []string{"editor"}}
)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	az, err := authz.NewService(authz.Config{Policy: policy})
	require.NoError(t, err)

	reg := settings.NewDefaultRegistry().MustRegister(
		settings.Setting{ID: "editor_can_see", Capability: "editor_can_see"},
		settings.Setting{ID: "editor_can_not_see", Capability: "editor_can_not_see"},
		settings.Setting{
			ID: "foo_illegal",
			Validate: func(context.Context, any, authz.Actor) settings.Outcome {
				return settings.Outcome{Code: "illegal", Message: "Illegal."}
			},
		},
	)
	return NewEngine(reg, az, opts...)
}

func entry(v string) models.SettingEntry {
	return models.SettingEntry{Value: json.RawMessage(v), Type: settings.TypeOption, UserID: "1"}
}

func TestRun_MergesAndAccepts(t *testing.T) {
	e := newEngine(t)
	existing := models.SettingsData{"blogdescription": entry(`"Old"`)}

	res, err := e.Run(context.Background(), existing, json.RawMessage(`{"blogname":{"value":"New"}}`), admin)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Len(t, res.Outcomes, 2, "every merged id gets an outcome")
	assert.JSONEq(t, `"New"`, string(res.Merged["blogname"].Value))
	assert.Equal(t, "1", res.Merged["blogname"].UserID)
	assert.Equal(t, settings.TypeOption, res.Merged["blogname"].Type)
	assert.Contains(t, res.Merged, "blogdescription")

	// existing is left untouched.
	assert.NotContains(t, existing, "blogname")
}

func TestRun_RevalidatesExistingSettings(t *testing.T) {
	e := newEngine(t)
	existing := models.SettingsData{"posts_per_page": entry(`500`)}

	res, err := e.Run(context.Background(), existing, json.RawMessage(`{"blogname":{"value":"ok"}}`), admin)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, settings.CodeInvalidValue, res.Outcomes["posts_per_page"].Code)
	assert.True(t, res.Outcomes["blogname"].IsValid())
	assert.Equal(t, []string{"posts_per_page"}, res.Rejected())
}

func TestRun_IllegalSettingRejectsAll(t *testing.T) {
	e := newEngine(t)

	res, err := e.Run(context.Background(), nil,
		json.RawMessage(`{"foo_illegal":{"value":"Foo"},"blogname":{"value":"fine"}}`), admin)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "illegal", res.Outcomes["foo_illegal"].Code)
	assert.True(t, res.Outcomes["blogname"].IsValid())
}

func TestRun_Unrecognized(t *testing.T) {
	proposed := json.RawMessage(`{"no_such_setting":{"value":1}}`)

	res, err := newEngine(t).Run(context.Background(), nil, proposed, admin)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, settings.CodeUnrecognized, res.Outcomes["no_such_setting"].Code)

	res, err = newEngine(t, WithAllowUnrecognized(true)).Run(context.Background(), nil, proposed, admin)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, settings.CodeUnrecognized, res.Outcomes["no_such_setting"].Code)
}

func TestRun_CapabilityOfTouchedSettings(t *testing.T) {
	e := newEngine(t)

	res, err := e.Run(context.Background(), nil,
		json.RawMessage(`{"editor_can_see":{"value":"a"},"editor_can_not_see":{"value":"b"}}`), editor)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.True(t, res.Outcomes["editor_can_see"].IsValid())
	assert.Equal(t, settings.CodeForbidden, res.Outcomes["editor_can_not_see"].Code)

	// Settings staged by someone else are validated but not capability-checked.
	existing := models.SettingsData{"editor_can_not_see": entry(`"b"`)}
	res, err = e.Run(context.Background(), existing, json.RawMessage(`{"editor_can_see":{"value":"a"}}`), editor)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestRun_NullRemoves(t *testing.T) {
	e := newEngine(t)
	existing := models.SettingsData{"blogname": entry(`"x"`), "blogdescription": entry(`"y"`)}

	res, err := e.Run(context.Background(), existing,
		json.RawMessage(`{"blogname":null,"blogdescription":{"value":null}}`), admin)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Empty(t, res.Merged)
	assert.Len(t, res.Outcomes, 2)
}

func TestRun_MalformedData(t *testing.T) {
	e := newEngine(t)
	for _, body := range []string{
		`"string"`,
		`[1,2]`,
		`null`,
		`{"blogname":"bare"}`,
		`{"blogname":{"val":"x"}}`,
		`{"blogname":{"value":"x","type":5}}`,
		`{`,
	} {
		_, err := e.Run(context.Background(), nil, json.RawMessage(body), admin)
		assert.ErrorIs(t, err, ErrInvalidData, body)
	}
}
