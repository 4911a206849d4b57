package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flowfield-rts/internal/config"
	"flowfield-rts/internal/game"
	"flowfield-rts/internal/game/spatial"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap/zaptest"
)

const (
	testDT         = time.Second / 60
	testAdminToken = "s3cret"
)

// newTestEngine builds an engine on a 16×16 grid of 16-unit cells.
func newTestEngine(t *testing.T) *game.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Grid = config.GridConfig{Width: 16, Height: 16, CellSize: 16}
	cfg.Limits.MaxUnits = 8
	cfg.Limits.MaxBuildings = 2
	cfg.Limits.CommandQueueSize = 8
	cfg.Limits.MaxMoveBatch = 4
	return game.NewEngine(cfg, nil, zaptest.NewLogger(t))
}

// newTestRouter serves a router over engine with generous rate limits.
func newTestRouter(t *testing.T, engine *game.Engine) *httptest.Server {
	t.Helper()
	limiter := NewIPRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000})
	t.Cleanup(limiter.Stop)

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Engine:      engine,
		RateLimiter: limiter,
		AdminToken:  testAdminToken,
		Logger:      zaptest.NewLogger(t),
	}))
	t.Cleanup(ts.Close)
	return ts
}

// cellCenter returns the world center of a cell on the 16-unit test grid.
func cellCenter(x, y int) mgl32.Vec2 {
	return mgl32.Vec2{float32(x)*16 + 8, float32(y)*16 + 8}
}

func doJSON(t *testing.T, method, url string, body interface{}, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("Expected status %d, got %d", want, resp.StatusCode)
	}
}

// TestGetStateAfterTick tests that the state endpoint serves the published snapshot
func TestGetStateAfterTick(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	if _, err := engine.Spawn(cellCenter(2, 2), ""); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	engine.Tick(testDT)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/state", nil, "")
	expectStatus(t, resp, http.StatusOK)

	var snap game.WorldSnapshot
	decode(t, resp, &snap)
	if snap.UnitCount != 1 || len(snap.Units) != 1 {
		t.Errorf("Expected 1 unit, got count=%d len=%d", snap.UnitCount, len(snap.Units))
	}
	if snap.TickNumber != 1 {
		t.Errorf("Expected tick 1, got %d", snap.TickNumber)
	}
}

// TestSpawnUnitErrors tests status mapping for spawn failures
func TestSpawnUnitErrors(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/units", map[string]interface{}{"x": 24, "y": 24}, "")
	expectStatus(t, resp, http.StatusCreated)
	var created map[string]int
	decode(t, resp, &created)
	if created["id"] != 0 {
		t.Errorf("Expected first id 0, got %d", created["id"])
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/units", map[string]interface{}{"x": 24, "y": 24, "type": "dragon"}, "")
	expectStatus(t, resp, http.StatusBadRequest)

	for i := 1; i < engine.Limits().MaxUnits; i++ {
		if _, err := engine.Spawn(cellCenter(i%16, 3), ""); err != nil {
			t.Fatalf("Spawn %d failed: %v", i, err)
		}
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/units", map[string]interface{}{"x": 24, "y": 24}, "")
	expectStatus(t, resp, http.StatusServiceUnavailable)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/units", map[string]interface{}{"x": 1, "bogus": true}, "")
	expectStatus(t, resp, http.StatusBadRequest)
}

// TestUnitLookupAndDespawn tests single-unit reads and removal
func TestUnitLookupAndDespawn(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	id, _ := engine.Spawn(cellCenter(4, 4), "")

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/units/0", nil, "")
	expectStatus(t, resp, http.StatusOK)
	var u unitView
	decode(t, resp, &u)
	if u.ID != id || u.State != "idle" || u.Position.X != 72 {
		t.Errorf("Unexpected unit %+v", u)
	}

	expectStatus(t, doJSON(t, http.MethodGet, ts.URL+"/api/units/abc", nil, ""), http.StatusBadRequest)
	expectStatus(t, doJSON(t, http.MethodDelete, ts.URL+"/api/units/0", nil, ""), http.StatusNoContent)
	expectStatus(t, doJSON(t, http.MethodDelete, ts.URL+"/api/units/0", nil, ""), http.StatusNotFound)
	expectStatus(t, doJSON(t, http.MethodGet, ts.URL+"/api/units/0", nil, ""), http.StatusNotFound)
}

// TestMoveUnitsQueued tests that a move is accepted, then applied on the next tick
func TestMoveUnitsQueued(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	id, _ := engine.Spawn(cellCenter(1, 1), "")
	target := cellCenter(10, 10)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/units/move", map[string]interface{}{
		"ids":    []int{id},
		"target": map[string]float32{"x": target.X(), "y": target.Y()},
	}, "")
	expectStatus(t, resp, http.StatusAccepted)

	if u, _ := engine.Unit(id); u.State != game.UnitIdle {
		t.Error("Move should not apply before the next tick")
	}
	engine.Tick(testDT)
	if u, _ := engine.Unit(id); u.State != game.UnitMoving {
		t.Errorf("Expected unit moving after tick, got %v", u.State)
	}
}

// TestMoveUnitsRejected tests validation before a move is queued
func TestMoveUnitsRejected(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{
			name: "target off grid",
			body: map[string]interface{}{"ids": []int{0}, "target": map[string]float32{"x": -50, "y": 10}},
			want: http.StatusBadRequest,
		},
		{
			name: "too many ids",
			body: map[string]interface{}{"ids": []int{0, 1, 2, 3, 4}, "target": map[string]float32{"x": 10, "y": 10}},
			want: http.StatusBadRequest,
		},
		{
			name: "selection move",
			body: map[string]interface{}{"target": map[string]float32{"x": 10, "y": 10}},
			want: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+"/api/units/move", tt.body, "")
			expectStatus(t, resp, tt.want)
		})
	}
}

// TestInboxFullReturns503 tests backpressure from the command inbox
func TestInboxFullReturns503(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	var last int
	for i := 0; i < 32; i++ {
		resp := doJSON(t, http.MethodDelete, ts.URL+"/api/select", nil, "")
		last = resp.StatusCode
		if last == http.StatusServiceUnavailable {
			break
		}
	}
	if last != http.StatusServiceUnavailable {
		t.Errorf("Expected inbox to fill and return 503, last status %d", last)
	}
}

// TestSelectBoxThenRead tests selection through the queued path
func TestSelectBoxThenRead(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	a, _ := engine.Spawn(cellCenter(1, 1), "")
	engine.Spawn(cellCenter(12, 12), "")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/select/box", map[string]interface{}{
		"from": map[string]float32{"x": 64, "y": 64},
		"to":   map[string]float32{"x": 0, "y": 0},
	}, "")
	expectStatus(t, resp, http.StatusAccepted)
	engine.Tick(testDT)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/select", nil, "")
	var sel map[string][]int
	decode(t, resp, &sel)
	if len(sel["ids"]) != 1 || sel["ids"][0] != a {
		t.Errorf("Expected selection [%d], got %v", a, sel["ids"])
	}

	expectStatus(t, doJSON(t, http.MethodPost, ts.URL+"/api/select/type", map[string]string{"type": "dragon"}, ""), http.StatusBadRequest)
	expectStatus(t, doJSON(t, http.MethodPost, ts.URL+"/api/select/type", map[string]string{}, ""), http.StatusBadRequest)
	expectStatus(t, doJSON(t, http.MethodPost, ts.URL+"/api/select/type", map[string]string{"type": "square"}, ""), http.StatusAccepted)
}

// TestAdminRoutesRequireToken tests the bearer guard on world edits
func TestAdminRoutesRequireToken(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	body := map[string]interface{}{"cell": map[string]int{"x": 3, "y": 3}, "cost": 9}

	expectStatus(t, doJSON(t, http.MethodPut, ts.URL+"/api/grid/cost", body, ""), http.StatusUnauthorized)
	expectStatus(t, doJSON(t, http.MethodPut, ts.URL+"/api/grid/cost", body, "wrong"), http.StatusUnauthorized)
	expectStatus(t, doJSON(t, http.MethodPut, ts.URL+"/api/grid/cost", body, testAdminToken), http.StatusNoContent)

	if c := engine.Cost(spatial.Cell{X: 3, Y: 3}); c != 9 {
		t.Errorf("Expected cost 9, got %d", c)
	}

	// Reads stay open
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/grid/cell?x=3&y=3", nil, "")
	expectStatus(t, resp, http.StatusOK)
	var cell struct {
		InGrid bool `json:"inGrid"`
		Cost   int  `json:"cost"`
	}
	decode(t, resp, &cell)
	if !cell.InGrid || cell.Cost != 9 {
		t.Errorf("Unexpected cell response %+v", cell)
	}
}

// TestSetCostValidation tests cost range and bounds checks
func TestSetCostValidation(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	tests := []struct {
		name string
		x, y int
		cost int
		want int
	}{
		{"zero cost", 1, 1, 0, http.StatusBadRequest},
		{"too large", 1, 1, 256, http.StatusBadRequest},
		{"off grid", 99, 1, 5, http.StatusBadRequest},
		{"wall", 1, 1, 255, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]interface{}{"cell": map[string]int{"x": tt.x, "y": tt.y}, "cost": tt.cost}
			expectStatus(t, doJSON(t, http.MethodPut, ts.URL+"/api/grid/cost", body, testAdminToken), tt.want)
		})
	}
}

// TestBuildingLifecycle tests placement conflicts, limits and removal
func TestBuildingLifecycle(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	engine.Spawn(cellCenter(8, 8), "")

	place := func(x, y int) *http.Response {
		return doJSON(t, http.MethodPost, ts.URL+"/api/buildings", map[string]interface{}{
			"cell": map[string]int{"x": x, "y": y},
			"size": map[string]int{"x": 2, "y": 2},
		}, testAdminToken)
	}

	expectStatus(t, place(7, 7), http.StatusConflict)

	resp := place(1, 1)
	expectStatus(t, resp, http.StatusCreated)
	var created map[string]int
	decode(t, resp, &created)

	expectStatus(t, place(1, 1), http.StatusConflict) // cells now impassable
	expectStatus(t, place(4, 1), http.StatusCreated)
	expectStatus(t, place(12, 1), http.StatusServiceUnavailable)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/buildings/check?x=1&y=1&w=2&h=2", nil, "")
	var check map[string]bool
	decode(t, resp, &check)
	if check["clear"] {
		t.Error("Occupied footprint should not be clear")
	}

	expectStatus(t, doJSON(t, http.MethodGet, ts.URL+"/api/buildings/check?x=1&y=1&w=0&h=2", nil, ""), http.StatusBadRequest)
	expectStatus(t, doJSON(t, http.MethodGet, ts.URL+"/api/buildings/check?x=1&y=1&w=2&h=-3", nil, ""), http.StatusBadRequest)

	expectStatus(t, doJSON(t, http.MethodDelete, ts.URL+"/api/buildings/0", nil, testAdminToken), http.StatusNoContent)
	expectStatus(t, doJSON(t, http.MethodDelete, ts.URL+"/api/buildings/0", nil, testAdminToken), http.StatusNotFound)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/buildings", nil, "")
	var list []game.Building
	decode(t, resp, &list)
	if len(list) != 1 || list[0].ID != 1 {
		t.Errorf("Expected only building 1 left, got %+v", list)
	}
}

// TestFieldsAndNavQueries tests field creation through to integration lookups
func TestFieldsAndNavQueries(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/fields", map[string]interface{}{
		"target": map[string]int{"x": 5, "y": 5},
	}, testAdminToken)
	expectStatus(t, resp, http.StatusAccepted)

	engine.Tick(testDT) // computes the queued field

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/fields", nil, "")
	var fields []spatial.FieldInfo
	decode(t, resp, &fields)
	if len(fields) != 1 || fields[0].State != spatial.FieldUpToDate.String() {
		t.Fatalf("Expected one up-to-date field, got %+v", fields)
	}

	target := cellCenter(5, 5)
	pos := cellCenter(8, 5)
	url := ts.URL + "/api/nav/integration?x=" + ftoa(pos.X()) + "&y=" + ftoa(pos.Y()) +
		"&tx=" + ftoa(target.X()) + "&ty=" + ftoa(target.Y())
	resp = doJSON(t, http.MethodGet, url, nil, "")
	expectStatus(t, resp, http.StatusOK)
	var integ struct {
		Distance  float32 `json:"distance"`
		Found     bool    `json:"found"`
		Reachable bool    `json:"reachable"`
	}
	decode(t, resp, &integ)
	if !integ.Found || !integ.Reachable || integ.Distance != 3 {
		t.Errorf("Expected reachable distance 3, got %+v", integ)
	}

	resp = doJSON(t, http.MethodGet, strings.Replace(url, "integration", "direction", 1), nil, "")
	var dir point
	decode(t, resp, &dir)
	if dir.X >= 0 || dir.Y != 0 {
		t.Errorf("Expected direction along -x, got %+v", dir)
	}

	expectStatus(t, doJSON(t, http.MethodGet, ts.URL+"/api/nav/direction?x=1", nil, ""), http.StatusBadRequest)

	expectStatus(t, doJSON(t, http.MethodDelete, ts.URL+"/api/fields", nil, testAdminToken), http.StatusNoContent)
	if n := engine.Stats().Cache.Fields; n != 0 {
		t.Errorf("Expected empty cache after clear, got %d", n)
	}
}

func ftoa(f float32) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// TestRateLimiting tests that the limiter rejects bursts with 429
func TestRateLimiting(t *testing.T) {
	engine := newTestEngine(t)
	limiter := NewIPRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	defer limiter.Stop()

	router := NewRouter(RouterConfig{Engine: engine, RateLimiter: limiter, DisableLogging: true})

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("Expected burst of 2 to pass, got %v", codes)
	}
	if codes[3] != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after burst, got %v", codes)
	}
	if stats := limiter.GetStats(); stats.Rejected == 0 {
		t.Error("Expected rejected count > 0")
	}
}

// TestBodyTooLarge tests that oversized bodies are rejected
func TestBodyTooLarge(t *testing.T) {
	engine := newTestEngine(t)
	ts := newTestRouter(t, engine)

	big := `{"type":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
	resp, err := http.Post(ts.URL+"/api/units", "application/json", strings.NewReader(big))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
}

// TestGetClientIP tests header precedence for client IP extraction
func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "1.2.3.4:5678", "1.2.3.4"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "9.9.9.9, 10.0.0.1"}, "1.2.3.4:5678", "9.9.9.9"},
		{"real ip", map[string]string{"X-Real-IP": "8.8.8.8"}, "1.2.3.4:5678", "8.8.8.8"},
		{"no port", nil, "1.2.3.4", "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := GetClientIP(req); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

// TestOriginChecker tests exact and wildcard-port origin patterns
func TestOriginChecker(t *testing.T) {
	oc := newOriginChecker([]string{"https://rts.example", "http://localhost:*"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://rts.example", true},
		{"http://localhost:5173", true},
		{"http://localhost", true},
		{"https://evil.example", false},
		{"http://localhost.evil.example", false},
	}

	for _, tt := range tests {
		if got := oc.Allowed(tt.origin); got != tt.want {
			t.Errorf("Allowed(%q): expected %v, got %v", tt.origin, tt.want, got)
		}
	}
}
