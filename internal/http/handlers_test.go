package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

type testEnv struct {
	t    *testing.T
	srv  *httptest.Server
	gate *auth.Gate
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gate, err := auth.NewGate("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ride.NewService(storage.NewMemoryStore(), nil, logger)
	srv := httptest.NewServer(NewServer(svc, gate, logger))
	t.Cleanup(srv.Close)
	return &testEnv{t: t, srv: srv, gate: gate}
}

func (e *testEnv) token(id string, role auth.Role) string {
	tok, err := e.gate.Issue(auth.Principal{ID: id, Role: role}, time.Hour)
	if err != nil {
		e.t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(method, path, token string, body any) (int, map[string]json.RawMessage) {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]json.RawMessage{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func decodeRide(t *testing.T, raw json.RawMessage) models.Ride {
	t.Helper()
	var r models.Ride
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatalf("decode ride %s: %v", raw, err)
	}
	return r
}

func (e *testEnv) createRide(rider string) models.Ride {
	e.t.Helper()
	code, body := e.do("POST", "/rides", e.token(rider, auth.RoleRider), map[string]any{
		"pickup": map[string]float64{"lat": 12.9, "lng": 77.6},
		"drop":   map[string]float64{"lat": 12.95, "lng": 77.65},
	})
	if code != http.StatusCreated {
		e.t.Fatalf("create: status %d", code)
	}
	return decodeRide(e.t, body["ride"])
}

func TestRideFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	rider := e.token("R1", auth.RoleRider)
	d1, d2 := e.token("D1", auth.RoleDriver), e.token("D2", auth.RoleDriver)

	r := e.createRide("R1")
	if r.RiderID != "R1" || r.Status != models.StatusRequested || len(r.PIN) != 4 || r.DriverID != nil {
		t.Fatalf("unexpected ride %+v", r)
	}

	code, body := e.do("GET", "/rides/available?lat=12.9&lng=77.6", d1, nil)
	if code != http.StatusOK {
		t.Fatalf("available: %d", code)
	}
	var avail []availableRide
	_ = json.Unmarshal(body["rides"], &avail)
	if len(avail) != 1 || avail[0].ID != r.ID || avail[0].PIN != "" || avail[0].PickupDistanceKm == nil {
		t.Fatalf("unexpected listing %s", body["rides"])
	}

	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for _, tok := range []string{d1, d2} {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			c, _ := e.do("POST", "/rides/"+r.ID+"/assign", tok, nil)
			codes <- c
		}(tok)
	}
	wg.Wait()
	close(codes)
	seen := map[int]int{}
	for c := range codes {
		seen[c]++
	}
	if seen[http.StatusOK] != 1 || seen[http.StatusConflict] != 1 {
		t.Fatalf("expected one 200 and one 409, got %v", seen)
	}

	_, body = e.do("GET", "/rides/"+r.ID, rider, nil)
	got := decodeRide(t, body["ride"])
	winner := d1
	if *got.DriverID == "D2" {
		winner = d2
	}
	if got.PIN != r.PIN {
		t.Fatalf("rider should see the pin")
	}

	_, body = e.do("GET", "/rides/available", winner, nil)
	if string(body["rides"]) != "[]" {
		t.Fatalf("claimed ride still available: %s", body["rides"])
	}

	code, body = e.do("PATCH", "/rides/"+r.ID+"/driver-location", winner, map[string]float64{"lat": 12.91, "lng": 77.61})
	if code != http.StatusOK {
		t.Fatalf("location: %d", code)
	}
	if loc := decodeRide(t, body["ride"]).DriverLocation; loc == nil || loc.Lat != 12.91 {
		t.Fatalf("location not stored: %+v", loc)
	}

	code, _ = e.do("POST", "/rides/"+r.ID+"/verify-pin", winner, map[string]string{"pin": "x"})
	if code != http.StatusBadRequest {
		t.Fatalf("wrong pin: %d", code)
	}
	code, body = e.do("POST", "/rides/"+r.ID+"/verify-pin", winner, map[string]string{"pin": r.PIN})
	if code != http.StatusOK || decodeRide(t, body["ride"]).Status != models.StatusInProgress {
		t.Fatalf("verify pin: %d %s", code, body["ride"])
	}

	code, _ = e.do("PATCH", "/rides/"+r.ID+"/status", rider, map[string]string{"status": "completed"})
	if code != http.StatusOK {
		t.Fatalf("complete: %d", code)
	}
	code, _ = e.do("POST", "/rides/"+r.ID+"/assign", e.token("D3", auth.RoleDriver), nil)
	if code != http.StatusConflict {
		t.Fatalf("claim after completion: %d", code)
	}
}

func TestAuthAndRoles(t *testing.T) {
	e := newTestEnv(t)
	r := e.createRide("R1")

	if code, _ := e.do("GET", "/rides/"+r.ID, "", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code, _ := e.do("GET", "/rides/"+r.ID, "garbage", nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", code)
	}
	rider := e.token("R1", auth.RoleRider)
	if code, _ := e.do("POST", "/rides/"+r.ID+"/assign", rider, nil); code != http.StatusForbidden {
		t.Fatalf("rider claiming: %d", code)
	}
	if code, _ := e.do("GET", "/rides/available", rider, nil); code != http.StatusForbidden {
		t.Fatalf("rider discovery: %d", code)
	}
	if code, _ := e.do("POST", "/rides", e.token("D1", auth.RoleDriver), map[string]any{}); code != http.StatusForbidden {
		t.Fatalf("driver creating: %d", code)
	}
}

func TestValidationAndNotFound(t *testing.T) {
	e := newTestEnv(t)
	rider := e.token("R1", auth.RoleRider)
	driver := e.token("D1", auth.RoleDriver)

	if code, _ := e.do("POST", "/rides", rider, map[string]any{"pickup": map[string]float64{"lat": 1, "lng": 1}}); code != http.StatusBadRequest {
		t.Fatalf("missing drop: %d", code)
	}
	if code, _ := e.do("GET", "/rides/nope", rider, nil); code != http.StatusNotFound {
		t.Fatalf("missing ride: %d", code)
	}
	if code, _ := e.do("PATCH", "/rides/nope/status", rider, map[string]string{"status": "completed"}); code != http.StatusNotFound {
		t.Fatalf("status on missing ride: %d", code)
	}
	r := e.createRide("R1")
	if code, _ := e.do("PATCH", "/rides/"+r.ID+"/status", rider, map[string]string{"status": "flying"}); code != http.StatusBadRequest {
		t.Fatalf("invalid status: %d", code)
	}
	if code, _ := e.do("PATCH", "/rides/"+r.ID+"/driver-location", driver, map[string]float64{"lat": 1}); code != http.StatusBadRequest {
		t.Fatalf("half location: %d", code)
	}
	if code, _ := e.do("PATCH", "/rides/nope/driver-location", driver, map[string]float64{"lat": 1, "lng": 1}); code != http.StatusNotFound {
		t.Fatalf("location on missing ride: %d", code)
	}
	if code, _ := e.do("POST", "/rides/nope/verify-pin", driver, map[string]string{"pin": "1234"}); code != http.StatusBadRequest {
		t.Fatalf("pin on missing ride: %d", code)
	}
	if code, _ := e.do("GET", "/rides/available?lat=1", driver, nil); code != http.StatusBadRequest {
		t.Fatalf("lat without lng: %d", code)
	}
}

func TestListByRider(t *testing.T) {
	e := newTestEnv(t)
	first := e.createRide("R1")
	second := e.createRide("R1")
	e.createRide("R2")
	rider := e.token("R1", auth.RoleRider)

	code, body := e.do("GET", "/rides", rider, nil)
	var rides []models.Ride
	_ = json.Unmarshal(body["rides"], &rides)
	if code != http.StatusOK || len(rides) != 2 || rides[0].ID != second.ID || rides[1].ID != first.ID {
		t.Fatalf("list: %d %s", code, body["rides"])
	}

	code, body = e.do("GET", "/rides?status=cancelled", rider, nil)
	if code != http.StatusOK || string(body["rides"]) != "[]" {
		t.Fatalf("filtered list: %d %s", code, body["rides"])
	}
	if code, _ := e.do("GET", "/rides?rider_id=R2", rider, nil); code != http.StatusForbidden {
		t.Fatalf("foreign rider list: %d", code)
	}
	driver := e.token("D1", auth.RoleDriver)
	if code, _ := e.do("GET", "/rides", driver, nil); code != http.StatusBadRequest {
		t.Fatalf("driver list without rider_id: %d", code)
	}
	code, body = e.do("GET", "/rides?rider_id=R1", driver, nil)
	rides = nil
	_ = json.Unmarshal(body["rides"], &rides)
	if code != http.StatusOK || len(rides) != 2 || rides[0].PIN != "" {
		t.Fatalf("driver view of rider list: %d %s", code, body["rides"])
	}
}

func TestHealthAndReady(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(e.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d", path, resp.StatusCode)
		}
	}
}

func TestStatusUpdateIsOpenToAnyPrincipal(t *testing.T) {
	e := newTestEnv(t)
	r := e.createRide("R1")
	stranger := e.token("R9", auth.RoleRider)

	code, body := e.do("PATCH", "/rides/"+r.ID+"/status", stranger, map[string]string{"status": "cancelled"})
	if code != http.StatusOK {
		t.Fatalf("status by unrelated rider: %d", code)
	}
	got := decodeRide(t, body["ride"])
	if got.Status != models.StatusCancelled || got.PIN != "" {
		t.Fatalf("unexpected ride for unrelated rider %+v", got)
	}
	if code, _ := e.do("PATCH", "/rides/"+r.ID+"/status", "", map[string]string{"status": "completed"}); code != http.StatusUnauthorized {
		t.Fatalf("status without token: %d", code)
	}
}

func TestVerifyPINRejectsPaddedPIN(t *testing.T) {
	e := newTestEnv(t)
	r := e.createRide("R1")
	driver := e.token("D1", auth.RoleDriver)

	for _, pin := range []string{r.PIN + " ", r.PIN + "0", "12\u000034"} {
		if code, _ := e.do("POST", "/rides/"+r.ID+"/verify-pin", driver, map[string]string{"pin": pin}); code != http.StatusBadRequest {
			t.Fatalf("pin %q: %d", pin, code)
		}
	}
	code, body := e.do("POST", "/rides/"+r.ID+"/verify-pin", driver, map[string]string{"pin": r.PIN})
	if code != http.StatusOK || decodeRide(t, body["ride"]).Status != models.StatusInProgress {
		t.Fatalf("verify: %d %s", code, body["ride"])
	}
}
