package plugin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/portero/internal/schema"
)

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Plugin{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Plugin{ID: "a"}); err == nil {
		t.Fatal("ID duplicado aceptado")
	}
	if err := r.Register(Plugin{}); err == nil {
		t.Fatal("ID vacío aceptado")
	}
}

func TestComposeMergesSchemas(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Plugin{ID: "a", UserSchema: schema.Table{"role": {Type: schema.TypeString}}})
	_ = r.Register(Plugin{ID: "b", UserSchema: schema.Table{"age": {Type: schema.TypeNumber}}})

	ax := r.Compose()
	tbl := ax.UserSchema()
	if _, ok := tbl["role"]; !ok {
		t.Fatal("falta campo del plugin a")
	}
	if _, ok := tbl["age"]; !ok {
		t.Fatal("falta campo del plugin b")
	}
}

func TestBeforeHookAborts(t *testing.T) {
	boom := errors.New("bloqueado")
	r := NewRegistry()
	_ = r.Register(Plugin{
		ID: "guard",
		Before: map[string][]Hook{
			"user.create": {func(ctx context.Context, ev *Event) error { return boom }},
		},
	})
	ax := r.Compose()

	err := ax.RunBefore(context.Background(), &Event{Op: "user.create"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	// otra operación no se ve afectada
	if err := ax.RunBefore(context.Background(), &Event{Op: "session.create"}); err != nil {
		t.Fatalf("hook aplicado a op ajena: %v", err)
	}
}

func TestAfterHooksRunInOrder(t *testing.T) {
	var got []string
	mk := func(name string) Hook {
		return func(ctx context.Context, ev *Event) error {
			got = append(got, name)
			return nil
		}
	}
	r := NewRegistry()
	_ = r.Register(Plugin{ID: "a", After: map[string][]Hook{"op": {mk("a")}}})
	_ = r.Register(Plugin{ID: "b", After: map[string][]Hook{"op": {mk("b")}}})

	r.Compose().RunAfter(context.Background(), &Event{Op: "op"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("orden = %v", got)
	}
}

func TestMountRoutes(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Plugin{ID: "totp", Routes: func(router chi.Router) {
		router.Get("/totp/status", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	}})

	router := chi.NewRouter()
	r.Compose().MountRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/totp/status", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUserInfoClaimsMerged(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Plugin{ID: "roles", UserInfoClaims: func(ctx context.Context, userID string, scopes []string) map[string]any {
		return map[string]any{"roles": []string{"admin"}}
	}})

	claims := r.Compose().AdditionalUserInfoClaims(context.Background(), "u1", nil)
	if _, ok := claims["roles"]; !ok {
		t.Fatalf("claims = %v", claims)
	}
}
