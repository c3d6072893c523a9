package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/rdb/internal/auth"
	"github.com/erazemk/rdb/internal/db"
	"github.com/erazemk/rdb/internal/history"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/service"
	"github.com/erazemk/rdb/internal/store"
)

const testJWTSecret = "test-secret"

type testServer struct {
	t      *testing.T
	url    string
	client *http.Client
}

// envelope is the body of mutation responses.
type envelope struct {
	Data     json.RawMessage `json:"data"`
	Actions  []model.Action  `json:"actions"`
	Warnings []string        `json:"warnings"`
	Error    string          `json:"error"`
}

func setupTestServer(t *testing.T) (*testServer, string) {
	t.Helper()
	database := db.NewTestDB(t)
	logger := slog.Default()
	svc := service.New(database, history.New(nil, logger), nil, logger)
	router := NewRouter(database, svc, auth.NewIssuer(testJWTSecret, 0), nil, logger)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	ctx := context.Background()
	for _, u := range []struct{ name, role string }{
		{"admin", model.RoleAdmin},
		{"viewer", model.RoleUser},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
		require.NoError(t, err)
		_, err = store.CreateUser(ctx, database, u.name, string(hash), u.role)
		require.NoError(t, err)
	}

	ts := &testServer{t: t, url: server.URL, client: server.Client()}
	return ts, ts.login("admin", "password")
}

func (s *testServer) login(username, password string) string {
	s.t.Helper()
	status, body := s.do("POST", "/api/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(s.t, http.StatusOK, status, string(body))

	var resp loginResponse
	require.NoError(s.t, json.Unmarshal(body, &resp))
	require.NotEmpty(s.t, resp.Token)
	return resp.Token
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (s *testServer) do(method, path, token string, body any) (int, []byte) {
	s.t.Helper()
	req, err := authRequest(method, s.url+path, token, body)
	require.NoError(s.t, err)
	resp, err := s.client.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(s.t, err)
	return resp.StatusCode, buf.Bytes()
}

// mutate performs a request that must succeed with status and returns its
// envelope, decoding the data into target when given.
func (s *testServer) mutate(method, path, token string, body any, status int, target any) envelope {
	s.t.Helper()
	got, raw := s.do(method, path, token, body)
	require.Equal(s.t, status, got, string(raw))

	var env envelope
	require.NoError(s.t, json.Unmarshal(raw, &env))
	if target != nil {
		require.NoError(s.t, json.Unmarshal(env.Data, target))
	}
	return env
}

func (s *testServer) get(path, token string, target any) {
	s.t.Helper()
	status, raw := s.do("GET", path, token, nil)
	require.Equal(s.t, http.StatusOK, status, string(raw))
	require.NoError(s.t, json.Unmarshal(raw, target))
}

func kinds(actions []model.Action) []model.ActionKind {
	out := make([]model.ActionKind, len(actions))
	for i, a := range actions {
		out[i] = a.Kind
	}
	return out
}

func TestLoginEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	status, _ := server.do("POST", "/api/auth/login", "", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := server.do("POST", "/api/auth/login", "", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "password required")
}

func TestLogoutRevokesToken(t *testing.T) {
	server, token := setupTestServer(t)

	status, _ := server.do("POST", "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = server.do("GET", "/api/locations", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUnauthenticatedAccess(t *testing.T) {
	server, _ := setupTestServer(t)

	for _, path := range []string{"/api/users", "/api/inventory", "/api/actions"} {
		status, _ := server.do("GET", path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
	}

	status, _ := server.do("GET", "/api/inventory", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRoleBasedAccess(t *testing.T) {
	server, _ := setupTestServer(t)
	viewer := server.login("viewer", "password")

	status, _ := server.do("GET", "/api/locations", viewer, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = server.do("POST", "/api/locations", viewer, map[string]any{"name": "Lab"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = server.do("GET", "/api/users", viewer, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestInventoryAPIFlow(t *testing.T) {
	server, token := setupTestServer(t)

	var lab, dock model.Location
	env := server.mutate("POST", "/api/locations", token, map[string]any{"name": "Lab"}, http.StatusCreated, &lab)
	assert.Equal(t, []model.ActionKind{model.ActionAdd}, kinds(env.Actions))
	server.mutate("POST", "/api/locations", token, map[string]any{"name": "Dock"}, http.StatusCreated, &dock)

	var part model.Part
	status, raw := server.do("POST", "/api/parts", token, map[string]any{"part_number": "P-1", "name": "CTD"})
	require.Equal(t, http.StatusCreated, status, string(raw))
	require.NoError(t, json.Unmarshal(raw, &part))

	var inv model.Inventory
	server.mutate("POST", "/api/inventory", token, map[string]any{
		"serial_number": "SN-1", "part_id": part.ID, "location_id": lab.ID,
	}, http.StatusCreated, &inv)
	assert.Equal(t, lab.ID, *inv.LocationID)

	var moved model.Inventory
	env = server.mutate("POST", fmt.Sprintf("/api/inventory/%d/move", inv.ID), token, map[string]any{
		"version": inv.Version, "location_id": dock.ID,
	}, http.StatusOK, &moved)
	assert.Equal(t, []model.ActionKind{model.ActionLocationChange}, kinds(env.Actions))
	assert.Equal(t, dock.ID, *moved.LocationID)

	// The first version is stale now.
	status, raw = server.do("POST", fmt.Sprintf("/api/inventory/%d/move", inv.ID), token, map[string]any{
		"version": inv.Version, "location_id": lab.ID,
	})
	assert.Equal(t, http.StatusConflict, status, string(raw))

	server.mutate("POST", "/api/notes", token, map[string]any{
		"subject_type": "inventory", "subject_id": inv.ID, "text": "cable frayed",
	}, http.StatusCreated, nil)

	var actions []model.Action
	server.get(fmt.Sprintf("/api/inventory/%d/history", inv.ID), token, &actions)
	require.Len(t, actions, 3)
	assert.Equal(t, model.ActionNote, actions[0].Kind)
	assert.Equal(t, "admin", actions[0].Username)
	assert.Equal(t, model.ActionAdd, actions[2].Kind)

	var items []model.Inventory
	server.get(fmt.Sprintf("/api/inventory?location_id=%d", dock.ID), token, &items)
	require.Len(t, items, 1)
	assert.Equal(t, "SN-1", items[0].SerialNumber)
}

func TestBuildDeploymentAPIFlow(t *testing.T) {
	server, token := setupTestServer(t)

	var lab model.Location
	server.mutate("POST", "/api/locations", token, map[string]any{"name": "Lab"}, http.StatusCreated, &lab)
	var part model.Part
	status, raw := server.do("POST", "/api/parts", token, map[string]any{"part_number": "P-1", "name": "CTD"})
	require.Equal(t, http.StatusCreated, status)
	require.NoError(t, json.Unmarshal(raw, &part))

	var inv model.Inventory
	server.mutate("POST", "/api/inventory", token, map[string]any{
		"serial_number": "SN-1", "part_id": part.ID, "location_id": lab.ID,
	}, http.StatusCreated, &inv)

	var build model.Build
	server.mutate("POST", "/api/builds", token, map[string]any{
		"build_number": "B-1", "location_id": lab.ID,
	}, http.StatusCreated, &build)

	env := server.mutate("POST", fmt.Sprintf("/api/inventory/%d/build", inv.ID), token, map[string]any{
		"version": inv.Version, "build_id": build.ID,
	}, http.StatusOK, &inv)
	assert.Equal(t, []model.ActionKind{model.ActionAddToBuild, model.ActionSubassemblyChange}, kinds(env.Actions))
	assert.Equal(t, build.ID, *inv.BuildID)

	var detail buildDetail
	server.get(fmt.Sprintf("/api/builds/%d", build.ID), token, &detail)
	require.Len(t, detail.Inventory, 1)

	var dep model.Deployment
	server.mutate("POST", fmt.Sprintf("/api/builds/%d/deployments", build.ID), token, map[string]any{
		"version": detail.Version, "deployment_number": "D-1",
	}, http.StatusCreated, &dep)

	env = server.mutate("POST", fmt.Sprintf("/api/deployments/%d/transition", dep.ID), token, map[string]any{
		"version": dep.Version, "action_type": "deployment_burnin",
	}, http.StatusOK, &dep)
	assert.NotNil(t, dep.BurninDate)
	assert.Contains(t, kinds(env.Actions), model.ActionDeploymentBurnin)

	// Deploying to the field needs a position.
	status, raw = server.do("POST", fmt.Sprintf("/api/deployments/%d/transition", dep.ID), token, map[string]any{
		"version": dep.Version, "action_type": "deployment_to_field",
	})
	assert.Equal(t, http.StatusBadRequest, status, string(raw))

	var buildActions []model.Action
	server.get(fmt.Sprintf("/api/builds/%d/history", build.ID), token, &buildActions)
	assert.Equal(t, model.ActionDeploymentBurnin, buildActions[0].Kind)

	var itemActions []model.Action
	server.get(fmt.Sprintf("/api/actions?subject_type=inventory&subject_id=%d&action_type=deployment_burnin", inv.ID), token, &itemActions)
	require.Len(t, itemActions, 1)
	assert.Equal(t, dep.ID, *itemActions[0].DeploymentID)
}

func TestValidationErrors(t *testing.T) {
	server, token := setupTestServer(t)

	status, body := server.do("POST", "/api/inventory", token, map[string]any{"part_id": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "serial_number required")

	status, _ = server.do("POST", "/api/inventory/abc/move", token, map[string]any{"version": 1, "location_id": 1})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = server.do("POST", "/api/inventory/99/move", token, map[string]any{"version": 1, "location_id": 1})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = server.do("POST", "/api/users", token, map[string]any{"username": "bob", "password": "password1", "role": "root"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRebuildEndpoint(t *testing.T) {
	server, token := setupTestServer(t)

	status, raw := server.do("POST", "/api/admin/rebuild/locations", token, nil)
	assert.Equal(t, http.StatusOK, status, string(raw))

	status, _ = server.do("POST", "/api/admin/rebuild/owners", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMetricsAndRequestID(t *testing.T) {
	server, _ := setupTestServer(t)

	req, err := http.NewRequest("GET", server.url+"/metrics", nil)
	require.NoError(t, err)
	resp, err := server.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
