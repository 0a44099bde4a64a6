package masking

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedValue replaces a secret-shaped field's value.
const MaskedValue = "[MASKED]"

// secretKeyNames are the field names this masker treats as secret-shaped,
// regardless of the surrounding payload's structure or resource kind —
// generalized from an earlier version of this masker that only fired on
// Kubernetes Secret resources.
var secretKeyNames = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"apikey":        true,
	"api_key":       true,
	"privatekey":    true,
	"private_key":   true,
	"accesskey":     true,
	"access_key":    true,
	"clientsecret":  true,
	"client_secret": true,
}

// SecretShapeMasker masks values of known secret-shaped field names in a
// JSON or YAML payload, walking the full document tree rather than
// gating on a "kind" discriminator.
type SecretShapeMasker struct{}

func (m *SecretShapeMasker) Name() string { return "secret_shapes" }

// AppliesTo performs a cheap substring check before the full parse.
func (m *SecretShapeMasker) AppliesTo(data string) bool {
	lower := strings.ToLower(data)
	for key := range secretKeyNames {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

// Mask parses data as JSON first, then YAML, masking any matching key's
// value in place. Returns the original data unchanged on parse failure or
// when nothing matched (defensive: never corrupt an unparseable payload).
func (m *SecretShapeMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var obj any
		if err := json.Unmarshal([]byte(data), &obj); err == nil {
			if maskTree(obj) {
				if out, err := json.Marshal(obj); err == nil {
					return string(out)
				}
			}
			return data
		}
	}

	var doc any
	if err := yaml.Unmarshal([]byte(data), &doc); err != nil {
		return data
	}
	if !maskTree(doc) {
		return data
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return data
	}
	return string(out)
}

// maskTree walks a JSON/YAML-decoded value (map[string]any / []any after
// json.Unmarshal, map[string]any / []any after yaml.Unmarshal) and masks
// any map value whose key is secret-shaped. Returns true if anything was
// masked.
func maskTree(v any) bool {
	masked := false
	switch node := v.(type) {
	case map[string]any:
		for k, val := range node {
			if secretKeyNames[strings.ToLower(k)] {
				if _, isString := val.(string); isString {
					node[k] = MaskedValue
					masked = true
					continue
				}
			}
			if maskTree(val) {
				masked = true
			}
		}
	case map[any]any:
		for k, val := range node {
			ks, ok := k.(string)
			if ok && secretKeyNames[strings.ToLower(ks)] {
				if _, isString := val.(string); isString {
					node[k] = MaskedValue
					masked = true
					continue
				}
			}
			if maskTree(val) {
				masked = true
			}
		}
	case []any:
		for _, item := range node {
			if maskTree(item) {
				masked = true
			}
		}
	}
	return masked
}
