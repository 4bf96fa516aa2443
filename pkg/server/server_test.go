package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	config := DefaultConfig()
	config.Port = 0
	config.EnableLogging = false

	srv, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return srv
}

func makeRequest(t *testing.T, srv *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	var response map[string]interface{}
	if rr.Body.Len() > 0 {
		if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}

	return rr, response
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	rr, resp := makeRequest(t, srv, "GET", "/_health", nil)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if ok, exists := resp["ok"].(bool); !exists || !ok {
		t.Errorf("Expected ok=true, got %v", resp["ok"])
	}

	result := resp["result"].(map[string]interface{})
	if status := result["status"]; status != "healthy" {
		t.Errorf("Expected status=healthy, got %v", status)
	}
	if _, exists := result["uptime"]; !exists {
		t.Error("Expected uptime field")
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	rr, resp := makeRequest(t, srv, "GET", "/_stats", nil)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	result := resp["result"].(map[string]interface{})
	if _, exists := result["openOTSessions"]; !exists {
		t.Error("Expected openOTSessions field in stats")
	}
	if _, exists := result["openCRDTSessions"]; !exists {
		t.Error("Expected openCRDTSessions field in stats")
	}
}

func TestSeedAndGetPage(t *testing.T) {
	srv := setupTestServer(t)

	seed := map[string]interface{}{"title": "Welcome", "body": "Hello world"}
	rr, _ := makeRequest(t, srv, "PUT", "/pages/home/seed", seed)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 seeding page, got %d", rr.Code)
	}

	rr, resp := makeRequest(t, srv, "GET", "/pages/home/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 fetching page, got %d", rr.Code)
	}
	result := resp["result"].(map[string]interface{})
	if result["Title"] != "Welcome" {
		t.Errorf("Expected title=Welcome, got %v", result["Title"])
	}
}

func TestGetUnknownPage(t *testing.T) {
	srv := setupTestServer(t)

	rr, resp := makeRequest(t, srv, "GET", "/pages/does-not-exist/", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
	if ok, exists := resp["ok"].(bool); exists && ok {
		t.Error("Expected ok=false for unknown page")
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("OPTIONS", "/_health", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 for OPTIONS, got %d", rr.Code)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin == "" {
		t.Error("Expected Access-Control-Allow-Origin header")
	}
	if methods := rr.Header().Get("Access-Control-Allow-Methods"); methods == "" {
		t.Error("Expected Access-Control-Allow-Methods header")
	}
}

func TestBadJSONSeedRequest(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("PUT", "/pages/home/seed", bytes.NewBufferString("{invalid json}"))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad JSON, got %d", rr.Code)
	}
}

func TestRequestSizeLimit(t *testing.T) {
	srv := setupTestServer(t)

	largeData := make([]byte, 11*1024*1024) // 11MB, over the 10MB default limit
	for i := range largeData {
		largeData[i] = 'a'
	}
	seed := map[string]interface{}{"body": string(largeData)}
	jsonData, _ := json.Marshal(seed)

	req := httptest.NewRequest("PUT", "/pages/home/seed", bytes.NewBuffer(jsonData))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code == http.StatusOK {
		t.Error("Expected request to fail due to size limit")
	}
}

func TestPrometheusMetricsEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	srv.metricsCollector.RecordTransform(time.Millisecond)
	srv.metricsCollector.SessionOpened()

	req := httptest.NewRequest("GET", "/_metrics", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	contentType := rr.Header().Get("Content-Type")
	if contentType != "text/plain; version=0.0.4; charset=utf-8" {
		t.Errorf("Expected Prometheus content type, got %s", contentType)
	}

	body := rr.Body.String()
	if !bytes.Contains([]byte(body), []byte("wikicollab_")) {
		t.Error("Expected wikicollab_ prefixed metrics in response")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Host != "localhost" {
		t.Errorf("Expected host=localhost, got %s", config.Host)
	}
	if config.Port != 8080 {
		t.Errorf("Expected port=8080, got %d", config.Port)
	}
	if config.ReadTimeout != 30*time.Second {
		t.Errorf("Expected read timeout=30s, got %v", config.ReadTimeout)
	}
	if config.MaxRequestSize != 10*1024*1024 {
		t.Errorf("Expected max request size=10MB, got %d", config.MaxRequestSize)
	}
	if !config.EnableCORS {
		t.Error("Expected CORS to be enabled by default")
	}
	if config.Collab == nil || config.Collab.CheckpointMaxUpdates != 500 {
		t.Errorf("Expected default checkpoint policy of 500 updates, got %+v", config.Collab)
	}
}

func TestGetMetricsCollector(t *testing.T) {
	srv := setupTestServer(t)

	collector := srv.GetMetricsCollector()
	if collector == nil {
		t.Error("Expected GetMetricsCollector to return non-nil collector")
	}
	if collector != srv.metricsCollector {
		t.Error("Expected GetMetricsCollector to return the server's metrics collector instance")
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	data := map[string]interface{}{"key": "value", "count": 42}

	WriteJSON(rr, http.StatusOK, data)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if contentType := rr.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("Expected Content-Type=application/json, got %s", contentType)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("Expected key=value, got %v", result["key"])
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()

	WriteError(rr, http.StatusBadRequest, "TestError", "This is a test error")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if ok, exists := result["ok"].(bool); !exists || ok {
		t.Error("Expected ok=false")
	}
	if result["error"] != "TestError" {
		t.Errorf("Expected error=TestError, got %v", result["error"])
	}
	if result["message"] != "This is a test error" {
		t.Errorf("Expected message='This is a test error', got %v", result["message"])
	}
}

func TestWriteSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	resultData := map[string]interface{}{"id": "123", "name": "test"}

	WriteSuccess(rr, resultData)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if ok, exists := result["ok"].(bool); !exists || !ok {
		t.Error("Expected ok=true")
	}
}

func TestShutdown(t *testing.T) {
	srv := setupTestServer(t)

	if err := srv.Shutdown(); err != nil {
		t.Errorf("Expected Shutdown to succeed, got error: %v", err)
	}
}

func TestNewWithInvalidTLSConfig(t *testing.T) {
	config := DefaultConfig()
	config.EnableTLS = true
	config.TLSCertFile = ""
	config.TLSKeyFile = ""

	if _, err := New(config); err == nil {
		t.Error("Expected error when TLS enabled without cert/key")
	}
}
