// Package projector turns lookup results into fixed-width report rows.
package projector

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Sternrassler/cnpj-batch-client/pkg/lookup"
)

// DefaultSentinel fills every position whose value could not be resolved.
const DefaultSentinel = "C"

// DefaultFields is the column layout of the standard report. "Dados" is a
// marker column that the registry never returns, so it always holds the sentinel.
var DefaultFields = FieldSpec{
	"Dados", "nome", "cnpj", "IE", "IM", "uf", "municipio", "bairro",
	"logradouro", "numero", "complemento", "cep", "telefone",
}

// FieldSpec is the ordered list of field names selected for every row.
type FieldSpec []string

// Row holds one value per FieldSpec entry, in FieldSpec order.
type Row []string

// Projector projects results using a configurable sentinel.
type Projector struct {
	Sentinel string
}

// New returns a Projector using DefaultSentinel.
func New() Projector {
	return Projector{Sentinel: DefaultSentinel}
}

// Project builds the row for result. Absent results yield a row made
// entirely of the sentinel. The row length always equals len(fields).
func (p Projector) Project(result lookup.Result, fields FieldSpec) Row {
	row := make(Row, len(fields))
	for i, name := range fields {
		value, ok := result.Field(name)
		if !ok {
			row[i] = p.Sentinel
			continue
		}
		row[i] = Stringify(value)
	}
	return row
}

// Project projects result with DefaultSentinel.
func Project(result lookup.Result, fields FieldSpec) Row {
	return New().Project(result, fields)
}

// Stringify renders a decoded JSON value as a report cell.
// Strings are kept verbatim, numbers keep their literal text, null becomes
// the empty string and objects or arrays are rendered as compact JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
