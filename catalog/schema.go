package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/qri-io/jsonschema"
)

// cacheSchema describes the on-disk cache document. Violations are surfaced
// as flaws (warnings), not hard failures; a document that decodes but drifts
// from the expected shape still loads.
const cacheSchema = `{
  "$schema": "https://json-schema.org/draft/2019-09/schema",
  "$id": "https://caseforge.dev/schemas/attack_cache.json",
  "title": "attack_cache",
  "type": "object",
  "required": ["version", "last_updated", "techniques"],
  "properties": {
    "version": {"type": "string"},
    "last_updated": {"type": "string"},
    "techniques": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["id", "name"],
        "properties": {
          "id": {"type": "string", "pattern": "^T[0-9]{4}(\\.[0-9]{3})?$"},
          "name": {"type": "string"},
          "description": {"type": "string"},
          "tactics": {"type": "array", "items": {"type": "string"}},
          "platforms": {"type": "array", "items": {"type": "string"}},
          "is_subtechnique": {"type": "boolean"},
          "parent_id": {"type": "string"},
          "url": {"type": "string"}
        }
      }
    },
    "tactics": {"type": "object"},
    "groups": {"type": "object"},
    "software": {"type": "object"},
    "mitigations": {"type": "object"}
  }
}`

var (
	cacheSchemaOnce sync.Once
	cacheSchemaRS   *jsonschema.Schema
	cacheSchemaErr  error
)

// validateCacheDocument checks a cache document against cacheSchema and
// returns human-readable flaws. The error return covers schema machinery
// failures only, not document violations.
func validateCacheDocument(data []byte) ([]string, error) {
	cacheSchemaOnce.Do(func() {
		rs := &jsonschema.Schema{}
		if err := json.Unmarshal([]byte(cacheSchema), rs); err != nil {
			cacheSchemaErr = fmt.Errorf("failed to parse cache schema: %w", err)
			return
		}
		cacheSchemaRS = rs
	})
	if cacheSchemaErr != nil {
		return nil, cacheSchemaErr
	}

	errs, err := cacheSchemaRS.ValidateBytes(context.Background(), data)
	if err != nil {
		return nil, err
	}

	flaws := make([]string, 0, len(errs))
	for _, verr := range errs {
		flaws = append(flaws, fmt.Sprintf("%s: %s", verr.PropertyPath, verr.Message))
	}
	return flaws, nil
}
