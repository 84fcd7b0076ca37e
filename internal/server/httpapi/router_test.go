package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/server/api"
	"github.com/dmitrijs2005/changesetd/internal/server/auth"
	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"github.com/dmitrijs2005/changesetd/internal/server/repositories/changesets"
	"github.com/dmitrijs2005/changesetd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/changesetd/internal/server/services"
	"github.com/dmitrijs2005/changesetd/internal/server/settings"
	"github.com/dmitrijs2005/changesetd/internal/server/validation"
	"github.com/dmitrijs2005/changesetd/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uuid1  = "6b3c1b2e-4a5f-4c1d-9e8a-0f1e2d3c4b5a"
	secret = "test-secret"
)

const policy = `
p, role:administrator, *
p, role:editor, customize
p, role:editor, read_changesets
p, role:editor, create_changesets
p, role:editor, edit_changesets
p, role:editor, delete_changesets
p, role:editor, editor_can_see
`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	az, err := authz.NewService(authz.Config{Policy: policy})
	require.NoError(t, err)
	reg := settings.NewDefaultRegistry().MustRegister(
		settings.Setting{ID: "editor_can_see", Capability: "editor_can_see"},
		settings.Setting{ID: "editor_can_not_see", Capability: "editor_can_not_see"},
		settings.Setting{
			ID: "foo_illegal",
			Validate: func(context.Context, any, authz.Actor) settings.Outcome {
				return settings.Outcome{Code: "illegal"}
			},
		},
	)
	rm := repomanager.NewMemoryRepositoryManager(changesets.Policy{RejectEmptyContent: true})
	svc := services.NewChangesetService(rm, reg, validation.NewEngine(reg, az), az)

	srv := httptest.NewServer(NewRouter(svc, Config{SecretKey: []byte(secret), CORSOrigins: []string{"*"}}))
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, id string, roles ...string) string {
	t.Helper()
	tok, err := auth.GenerateToken(id, roles, []byte(secret), time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, srv *httptest.Server, method, path, tok string, body any) (int, map[string]any) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestUpdate_PublishFutureChangeset(t *testing.T) {
	srv := newServer(t)
	admin := token(t, "1", "administrator")
	future := timex.FormatGMT(time.Now().Add(24 * time.Hour))

	status, body := do(t, srv, http.MethodPut, "/changesets/"+uuid1, admin, map[string]any{
		"status":   "future",
		"date_gmt": future,
		"customize_changeset_data": map[string]any{
			"blogname": map[string]any{"value": "Amended"},
		},
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "future", body["status"])
	assert.Equal(t, future, body["date_gmt"])
	assert.Equal(t, map[string]any{"blogname": true}, body["setting_validities"])

	status, body = do(t, srv, http.MethodPost, "/changesets/"+uuid1, admin, map[string]any{"status": "publish"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "publish", body["status"])
	assert.NotEqual(t, future, body["date_gmt"])
	assert.True(t, strings.HasPrefix(body["date_gmt"].(string), time.Now().UTC().Format("2006-01-02")))

	next, _ := body["next_changeset_uuid"].(string)
	assert.True(t, services.ValidUUID(next))
	assert.NotEqual(t, uuid1, next)

	status, body = do(t, srv, http.MethodGet, "/settings/blogname", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Amended", body["value"])
}

func TestUpdate_NumericDates(t *testing.T) {
	srv := newServer(t)
	admin := token(t, "1", "administrator")
	lastWeek := time.Now().Add(-7 * 24 * time.Hour).Unix()
	nextWeek := time.Now().Add(7 * 24 * time.Hour).Unix()

	status, body := do(t, srv, http.MethodPut, "/changesets/"+uuid1, admin, map[string]any{"date_gmt": lastWeek})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, services.CodeAutoDraftDate, body["code"])

	status, body = do(t, srv, http.MethodPut, "/changesets/"+uuid1, admin, map[string]any{
		"status": "draft",
		"title":  "Draft",
	})
	require.Equal(t, http.StatusOK, status, body)

	status, body = do(t, srv, http.MethodPut, "/changesets/"+uuid1, admin, map[string]any{"date_gmt": lastWeek})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, services.CodeNotFutureDate, body["code"])

	status, body = do(t, srv, http.MethodPut, "/changesets/"+uuid1, admin, map[string]any{
		"status":   "future",
		"date_gmt": nextWeek,
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "future", body["status"])
	assert.Equal(t, timex.FormatGMT(time.Unix(nextWeek, 0)), body["date_gmt"])
}

func TestUpdate_IllegalSettingFailsTransaction(t *testing.T) {
	srv := newServer(t)
	admin := token(t, "1", "administrator")

	status, body := do(t, srv, http.MethodPut, "/changesets/"+uuid1, admin, map[string]any{
		"customize_changeset_data": map[string]any{
			"foo_illegal": map[string]any{"value": "Foo"},
		},
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, services.CodeTransactionFail, body["code"])

	data := body["data"].(map[string]any)
	validities := data["setting_validities"].(map[string]any)
	illegal := validities["foo_illegal"].(map[string]any)
	assert.NotEmpty(t, illegal["illegal"])

	status, _ = do(t, srv, http.MethodGet, "/changesets/"+uuid1, admin, nil)
	assert.Equal(t, http.StatusNotFound, status, "nothing persisted")
}

func TestErrorsMapToStatuses(t *testing.T) {
	srv := newServer(t)
	admin := token(t, "1", "administrator")
	editor := token(t, "2", "editor")

	status, body := do(t, srv, http.MethodGet, "/changesets/not-a-uuid", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, services.CodeInvalidUUID, body["code"])

	status, body = do(t, srv, http.MethodPut, "/changesets/"+uuid1, editor, map[string]any{"status": "publish"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, services.CodePublishUnauthorized, body["code"])

	status, body = do(t, srv, http.MethodPut, "/changesets/"+uuid1, admin, map[string]any{"status": "bogus", "title": "t"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, services.CodeBadStatus, body["code"])

	status, body = do(t, srv, http.MethodPut, "/changesets/"+uuid1, admin, map[string]any{"status": "draft"})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, services.CodeSaveFailure, body["code"])
	assert.Equal(t, services.ReasonEmptyContent, body["data"].(map[string]any)["reason"])

	status, body = do(t, srv, http.MethodGet, "/changesets", "", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, services.CodeForbidden, body["code"])

	status, body = do(t, srv, http.MethodGet, "/changesets", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, api.CodeUnauthenticated, body["code"])

	expired, err := auth.GenerateToken("1", []string{"administrator"}, []byte(secret), -time.Minute)
	require.NoError(t, err)
	status, body = do(t, srv, http.MethodGet, "/changesets", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Access token expired.", body["message"])

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/changesets/"+uuid1, strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGet_ContextAndFiltering(t *testing.T) {
	srv := newServer(t)
	admin := token(t, "1", "administrator")
	editor := token(t, "2", "editor")
	reader := token(t, "3")

	status, _ := do(t, srv, http.MethodPut, "/changesets/"+uuid1, admin, map[string]any{
		"status": "draft",
		"customize_changeset_data": map[string]any{
			"editor_can_see":     map[string]any{"value": "a"},
			"editor_can_not_see": map[string]any{"value": "b"},
		},
	})
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, srv, http.MethodGet, "/changesets/"+uuid1+"?context=edit", editor, nil)
	require.Equal(t, http.StatusOK, status)
	data := body["customize_changeset_data"].(map[string]any)
	assert.Contains(t, data, "editor_can_see")
	assert.NotContains(t, data, "editor_can_not_see")

	status, body = do(t, srv, http.MethodGet, "/changesets/"+uuid1+"?context=edit", reader, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, services.CodeForbiddenContext, body["code"])

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/changesets?status=draft", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+editor)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []api.Changeset
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.NotContains(t, list[0].Data, "editor_can_not_see")
}

func TestDelete(t *testing.T) {
	srv := newServer(t)
	admin := token(t, "1", "administrator")

	status, _ := do(t, srv, http.MethodPut, "/changesets/"+uuid1, admin, map[string]any{"status": "draft", "title": "t"})
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, srv, http.MethodDelete, "/changesets/"+uuid1, admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "trash", body["status"])

	status, body = do(t, srv, http.MethodDelete, "/changesets/"+uuid1, admin, nil)
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, services.CodeAlreadyTrashed, body["code"])

	status, body = do(t, srv, http.MethodDelete, "/changesets/"+uuid1+"?force=true", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["deleted"])
	assert.Equal(t, uuid1, body["previous"].(map[string]any)["uuid"])

	status, _ = do(t, srv, http.MethodGet, "/changesets/"+uuid1, admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMetricsAndCORS(t *testing.T) {
	srv := newServer(t)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "go_goroutines")

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/changesets", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
