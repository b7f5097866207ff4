// Package cache define el secondary store efímero: estados OAuth en vuelo,
// authorization codes y el espejo opcional de sesiones.
//
// Backends:
//   - memory (in-process, dev/tests)
//   - redis (distribuido, producción)
package cache

import "time"

// Cache es la interfaz mínima que consumen session/oauth.
// GetDel existe porque state y code son single-use: el consumo tiene que
// ser atómico (GETDEL en redis, lock en memoria); un Get+Delete separado
// deja una ventana de replay bajo concurrencia.
type Cache interface {
	Get(key string) (value []byte, ok bool)
	GetDel(key string) (value []byte, ok bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}
