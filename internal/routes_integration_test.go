package internal_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkpulse/internal"
	"linkpulse/internal/testsupport"
)

func newTestApp(t *testing.T) *internal.Application {
	t.Helper()
	app, err := internal.NewAppWithConfig(testsupport.TestConfig(t))
	require.NoError(t, err)
	return app
}

func postJSON(t *testing.T, app *internal.Application, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Fiber.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, app *internal.Application, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := app.Fiber.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestTrackViewEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, body := postJSON(t, app, "/api/track/view", map[string]interface{}{
		"profileId": "P1",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.NotZero(t, data["viewId"])
	assert.Regexp(t, `^[0-9a-f-]{36}$`, data["sessionId"])

	// The session is immediately queryable.
	resp, body = getJSON(t, app, fmt.Sprintf("/api/track/session/%s", data["sessionId"]))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	session := body["data"].(map[string]interface{})
	assert.EqualValues(t, 1, session["PageViews"])
}

func TestTrackViewValidationError(t *testing.T) {
	app := newTestApp(t)

	resp, body := postJSON(t, app, "/api/track/view", map[string]interface{}{})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["error"])
	assert.Contains(t, body["message"], "profileId")
	assert.EqualValues(t, http.StatusBadRequest, body["statusCode"])
	assert.Equal(t, "/api/track/view", body["path"])
	assert.Equal(t, http.MethodPost, body["method"])
}

func TestTrackClickAndLinksReport(t *testing.T) {
	app := newTestApp(t)

	for i := 0; i < 5; i++ {
		resp, _ := postJSON(t, app, "/api/track/click", map[string]interface{}{
			"profileId": "P1", "linkIndex": 0, "linkTitle": "A",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	for i := 0; i < 2; i++ {
		resp, _ := postJSON(t, app, "/api/track/click", map[string]interface{}{
			"profileId": "P1", "linkIndex": 1, "linkTitle": "B",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := getJSON(t, app, "/api/analytics/links/P1?period=7d")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data := body["data"].(map[string]interface{})
	topLink := data["topLink"].(map[string]interface{})
	assert.Equal(t, "A", topLink["title"])
	performance := data["linkPerformance"].([]interface{})
	first := performance[0].(map[string]interface{})
	assert.EqualValues(t, 5, first["clicks"])
}

func TestBatchViewsEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, body := postJSON(t, app, "/api/track/batch/views", map[string]interface{}{
		"views": []map[string]interface{}{
			{"profileId": "P1"},
			{"profileId": "P1", "sessionId": "S-batch"},
		},
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.EqualValues(t, 2, data["trackedCount"])
}

func TestSessionEndEndpoint(t *testing.T) {
	app := newTestApp(t)

	_, body := postJSON(t, app, "/api/track/view", map[string]interface{}{
		"profileId": "P1", "sessionId": "S-http-end",
	})
	require.Equal(t, true, body["success"])

	resp, _ := postJSON(t, app, "/api/track/session/end", map[string]interface{}{
		"sessionId": "S-http-end",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = getJSON(t, app, "/api/track/session/S-http-end")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := body["data"].(map[string]interface{})
	assert.NotNil(t, session["EndTime"])
}

func TestRealtimeEndpointShape(t *testing.T) {
	app := newTestApp(t)

	resp, body := getJSON(t, app, "/api/analytics/profile/P1/realtime")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data := body["data"].(map[string]interface{})
	assert.Contains(t, data, "activeUsers")
	assert.Contains(t, data, "recentViews")
	assert.Contains(t, data, "recentClicks")
}

func TestUnknownSessionReturns404(t *testing.T) {
	app := newTestApp(t)

	resp, body := getJSON(t, app, "/api/track/session/never-seen")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])
}

func TestUnknownPeriodReturns400(t *testing.T) {
	app := newTestApp(t)

	resp, body := getJSON(t, app, "/api/analytics/profile/P1?period=13d")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["error"])
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)

	resp, body := getJSON(t, app, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
