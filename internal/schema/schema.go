// Package schema describe campos user-defined en runtime.
// En lugar de tipos generados, cada feature (core o plugin) declara una
// tabla de descriptores que se interpreta al validar requests y al
// serializar respuestas (p.ej. el cookie cache filtra returned=false).
package schema

import "fmt"

// FieldType es el tipo lógico de un campo adicional.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "boolean"
	TypeDate   FieldType = "date"
)

// Field describe un campo: tipo, obligatoriedad, si se devuelve al cliente
// y un default opcional aplicado en creación.
type Field struct {
	Type     FieldType
	Required bool
	Returned bool
	Default  any
}

// Table mapea nombre de campo -> descriptor.
type Table map[string]Field

// Merge combina fragmentos de schema en orden determinístico de declaración.
// El último fragmento gana ante colisión de nombre.
func Merge(tables ...Table) Table {
	out := Table{}
	for _, t := range tables {
		for k, f := range t {
			out[k] = f
		}
	}
	return out
}

// Validate chequea presencia de requeridos y tipos básicos de los valores.
func (t Table) Validate(values map[string]any) error {
	for name, f := range t {
		v, ok := values[name]
		if !ok || v == nil {
			if f.Required && f.Default == nil {
				return fmt.Errorf("schema: missing required field %q", name)
			}
			continue
		}
		if !typeMatches(f.Type, v) {
			return fmt.Errorf("schema: field %q: expected %s", name, f.Type)
		}
	}
	return nil
}

// ApplyDefaults completa los campos ausentes que tengan default.
func (t Table) ApplyDefaults(values map[string]any) map[string]any {
	if values == nil {
		values = map[string]any{}
	}
	for name, f := range t {
		if _, ok := values[name]; !ok && f.Default != nil {
			values[name] = f.Default
		}
	}
	return values
}

// FilterReturned devuelve una copia sin los campos marcados returned=false.
// Campos no declarados en la tabla pasan tal cual (compat con datos legacy).
func (t Table) FilterReturned(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if f, ok := t[k]; ok && !f.Returned {
			continue
		}
		out[k] = v
	}
	return out
}

func typeMatches(ft FieldType, v any) bool {
	switch ft {
	case TypeString, TypeDate:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeBool:
		_, ok := v.(bool)
		return ok
	}
	return true
}
