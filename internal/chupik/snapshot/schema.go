package snapshot

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const timestamp = `{"type": "string", "format": "date-time"}`

// Schemas for the documents the agent persists, keyed by document name.
var schemaSources = map[string]string{
	"facts": `{
		"type": "object",
		"additionalProperties": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["key", "text", "timestamp"],
				"properties": {
					"key": {"type": "string", "minLength": 1},
					"text": {"type": "string", "minLength": 1},
					"contributor_id": {"type": "string"},
					"contributor_name": {"type": "string"},
					"timestamp": ` + timestamp + `,
					"seq": {"type": "integer", "minimum": 0}
				}
			}
		}
	}`,
	"profiles": `{
		"type": "object",
		"additionalProperties": {
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"age": {"type": "string"},
				"city": {"type": "string"},
				"work": {"type": "string"},
				"likes": {"type": "string"},
				"username": {"type": "string"},
				"updated_at": ` + timestamp + `
			}
		}
	}`,
	"rules": `{
		"type": "object",
		"additionalProperties": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["text", "active"],
				"properties": {
					"text": {"type": "string"},
					"contributor_id": {"type": "string"},
					"contributor_name": {"type": "string"},
					"timestamp": ` + timestamp + `,
					"active": {"type": "boolean"}
				}
			}
		}
	}`,
	"moods": `{
		"type": "object",
		"additionalProperties": {
			"type": "object",
			"required": ["score", "energy"],
			"properties": {
				"score": {"type": "number"},
				"energy": {"type": "number"},
				"message_count": {"type": "integer", "minimum": 0},
				"last_updated_at": ` + timestamp + `
			}
		}
	}`,
	"settings": `{
		"type": "object",
		"additionalProperties": {
			"type": "object",
			"properties": {
				"response_style": {"enum": ["concise", "detailed", "playful", ""]},
				"intervention_level": {"enum": ["none", "low", "medium", "high", ""]},
				"proactive_hooks": {"type": "boolean"},
				"silence_revival": {"type": "boolean"},
				"silence_timeout": {"type": "integer", "minimum": 0},
				"custom_persona": {"type": "string"}
			}
		}
	}`,
	"stats": `{
		"type": "object",
		"additionalProperties": {
			"type": "object",
			"required": ["date"],
			"properties": {
				"date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
				"total": {"type": "integer", "minimum": 0},
				"by_sender": {
					"type": "object",
					"additionalProperties": {"type": "integer", "minimum": 0}
				}
			}
		}
	}`,
}

var schemas = compileSchemas()

func compileSchemas() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(schemaSources))
	for name, src := range schemaSources {
		c := jsonschema.NewCompiler()
		c.AssertFormat = true
		url := name + ".schema.json"
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			panic("snapshot: invalid schema " + name + ": " + err.Error())
		}
		out[name] = c.MustCompile(url)
	}
	return out
}

// validate checks data against the schema registered for name. Names
// without a schema only need to be well-formed JSON.
func validate(name string, data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	s, ok := schemas[name]
	if !ok {
		return nil
	}
	return s.Validate(doc)
}
