package http

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	calculateSchema = mustCompileSchema("calculate.json")
	usersBulkSchema = mustCompileSchema("users_bulk.json")
)

func mustCompileSchema(name string) *jsonschema.Schema {
	raw, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		panic(err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse schema %s: %v", name, err))
	}
	url := "schema://gradecalc/" + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return c.MustCompile(url)
}

// decodeInstance parses body the way the schema validator expects
// (numbers as json.Number).
func decodeInstance(body []byte) (any, error) {
	return jsonschema.UnmarshalJSON(bytes.NewReader(body))
}
