package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
)

// NewHealthzHandler: liveness pelado, no toca dependencias.
func NewHealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewReadyzHandler: readiness real. Pinguea el store, verifica que el
// issuer pueda firmar y parsear, y chequea redis si está configurado.
func NewReadyzHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		if err := c.Store.Ping(ctx); err != nil {
			checks["store"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["store"] = "ok"
		}

		// Self-check de firma: un token que no se puede emitir o validar
		// significa keystore/secret roto.
		if tok, _, err := c.Issuer.IssueAccess("readyz", "readyz", nil, nil); err != nil {
			checks["issuer"] = "error: " + err.Error()
			healthy = false
		} else if _, err := c.Issuer.Parse(tok); err != nil {
			checks["issuer"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["issuer"] = "ok"
		}

		if err := c.CheckRedis(ctx); err != nil {
			checks["redis"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}

		status := http.StatusOK
		state := "ready"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		httpx.WriteJSON(w, status, map[string]any{"status": state, "checks": checks})
	}
}
