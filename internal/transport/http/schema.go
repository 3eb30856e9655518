package httpapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// proposeSchema rejects malformed trade proposals before they reach the
// pipeline, so the oracle gate only ever sees structurally valid input.
const proposeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["signal", "snapshot"],
  "properties": {
    "signal": {
      "type": "object",
      "required": ["symbol", "side", "confidence", "generated_at"],
      "properties": {
        "symbol": {"type": "string", "minLength": 1},
        "side": {"type": "string", "enum": ["BUY", "SELL", "HOLD"]},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "risk_score": {"type": "number", "minimum": 0, "maximum": 100},
        "position_size_pct": {"type": "number", "minimum": 0, "maximum": 100},
        "reasoning": {"type": "string"},
        "generated_at": {"type": "string"}
      }
    },
    "snapshot": {
      "type": "object",
      "required": ["symbol", "price", "captured_at"],
      "properties": {
        "symbol": {"type": "string", "minLength": 1},
        "price": {"type": "number"},
        "captured_at": {"type": "string"}
      }
    },
    "force": {"type": "boolean"}
  }
}`

var proposeValidator = mustCompileSchema("propose.json", proposeSchema)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("add schema resource %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

func validateProposeBody(body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return proposeValidator.Validate(doc)
}
