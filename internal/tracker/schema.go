package tracker

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const documentSchemaURL = "trackfile:document.schema.json"

// documentSchema constrains the working-document wire form before the codec
// maps it onto the tree types.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "root"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "root": {"$ref": "#/$defs/node"}
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["title", "state"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "title": {"type": "string"},
        "state": {"enum": ["open", "closed", "not-planned", "duplicate"]},
        "duplicateOf": {"type": "string"},
        "owned": {"type": "boolean"},
        "labels": {"type": "array", "items": {"type": "string"}},
        "comments": {"type": "array", "items": {"$ref": "#/$defs/comment"}},
        "children": {"type": "array", "items": {"$ref": "#/$defs/node"}},
        "blocks": {"type": "array"},
        "syncedAt": {"type": "string"}
      }
    },
    "comment": {
      "type": "object",
      "required": ["kind", "text"],
      "properties": {
        "kind": {"enum": ["body", "linked", "pending"]},
        "id": {"type": "string"},
        "text": {"type": "string"},
        "owned": {"type": "boolean"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schemaVal  *jsonschema.Schema
	schemaErr  error
)

func compiledDocumentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(documentSchemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		schemaVal, schemaErr = compiler.Compile(documentSchemaURL)
	})
	return schemaVal, schemaErr
}
