package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func serve(t *testing.T, h *Handler, path string) (int, report) {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, rep
}

func TestHealthz(t *testing.T) {
	failing := Checker{Name: "device", Check: func(context.Context) error { return errors.New("down") }}
	code, rep := serve(t, New(failing), "/healthz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("healthz = %d %+v, want 200 ok regardless of checks", code, rep)
	}
}

func TestReadyz(t *testing.T) {
	ok := Checker{Name: "stream", Check: func(context.Context) error { return nil }}
	down := Checker{Name: "device", Check: func(context.Context) error { return errors.New("not connected") }}

	t.Run("all_pass", func(t *testing.T) {
		code, rep := serve(t, New(ok), "/readyz")
		if code != http.StatusOK || rep.Status != "ok" || rep.Checks["stream"] != "ok" {
			t.Errorf("readyz = %d %+v", code, rep)
		}
	})
	t.Run("one_fails", func(t *testing.T) {
		code, rep := serve(t, New(ok, down), "/readyz")
		if code != http.StatusServiceUnavailable || rep.Status != "fail" {
			t.Errorf("readyz = %d %+v", code, rep)
		}
		if rep.Checks["stream"] != "ok" {
			t.Errorf("passing check not reported: %v", rep.Checks)
		}
		if !strings.Contains(rep.Checks["device"], "not connected") {
			t.Errorf("device check = %q", rep.Checks["device"])
		}
	})
	t.Run("respects_deadline", func(t *testing.T) {
		slow := Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		code, _ := serve(t, New(slow), "/readyz")
		if code != http.StatusServiceUnavailable {
			t.Errorf("readyz = %d, want 503", code)
		}
	})
}
