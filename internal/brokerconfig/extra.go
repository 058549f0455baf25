package brokerconfig

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
)

// reservedRootKeys are the operator-owned stanzas of config.hcl. extraConfig
// may add new stanzas but never shadow these.
var reservedRootKeys = map[string]struct{}{
	"node_id":         {},
	"cluster_name":    {},
	"data_dir":        {},
	"advertised_host": {},
	"listener":        {},
	"log":             {},
	"replication":     {},
	"discovery":       {},
	"telemetry":       {},
}

// IsReservedConfigKey reports whether a top-level extraConfig key collides
// with an operator-owned stanza.
func IsReservedConfigKey(key string) bool {
	_, ok := reservedRootKeys[key]
	return ok
}

// buildExtraConfigTokens converts the free-form spec.extraConfig JSON into
// HCL tokens appended after the operator-owned stanzas. Top-level objects
// become blocks, everything else becomes an attribute. Keys are emitted in
// sorted order so the rendered file stays deterministic.
func buildExtraConfigTokens(extra *apiextensionsv1.JSON) (hclwrite.Tokens, error) {
	if extra == nil || len(extra.Raw) == 0 {
		return nil, nil
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(extra.Raw, &decoded); err != nil {
		return nil, fmt.Errorf("extraConfig must be a JSON object: %w", err)
	}
	if len(decoded) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(decoded))
	for k := range decoded {
		if IsReservedConfigKey(k) {
			return nil, fmt.Errorf("extraConfig key %q conflicts with an operator-managed stanza", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tmpFile := hclwrite.NewEmptyFile()
	tmpBody := tmpFile.Body()

	for _, k := range keys {
		switch val := decoded[k].(type) {
		case nil:
			// The broker treats null as unset; omit it entirely.
			continue
		case map[string]interface{}:
			block := tmpBody.AppendNewBlock(k, nil)
			if err := appendObjectAttributes(block.Body(), val); err != nil {
				return nil, fmt.Errorf("invalid extraConfig stanza %q: %w", k, err)
			}
		default:
			ctyVal, err := jsonToCty(val)
			if err != nil {
				return nil, fmt.Errorf("invalid extraConfig attribute %q: %w", k, err)
			}
			if ctyVal == cty.NilVal {
				continue
			}
			tmpBody.SetAttributeValue(k, ctyVal)
		}
	}

	return normalizeTrailingNewline(tmpBody.BuildTokens(nil)), nil
}

func appendObjectAttributes(body *hclwrite.Body, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if obj[k] == nil {
			continue
		}
		ctyVal, err := jsonToCty(obj[k])
		if err != nil {
			return err
		}
		if ctyVal == cty.NilVal {
			continue
		}
		body.SetAttributeValue(k, ctyVal)
	}
	return nil
}

// jsonToCty converts a decoded JSON value (maps, slices, strings, numbers,
// booleans) into a cty.Value tree suitable for hclwrite. This function uses
// interface{} because encoding/json produces generic map[string]interface{}
// structures; a concrete type is not possible here.
func jsonToCty(v interface{}) (cty.Value, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}

		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		obj := make(map[string]cty.Value, len(val))
		for _, k := range keys {
			if val[k] == nil {
				continue
			}
			child, err := jsonToCty(val[k])
			if err != nil {
				return cty.NilVal, err
			}
			if child != cty.NilVal {
				obj[k] = child
			}
		}

		return cty.ObjectVal(obj), nil
	case []interface{}:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}

		elems := make([]cty.Value, 0, len(val))
		for _, elem := range val {
			if elem == nil {
				continue
			}
			child, err := jsonToCty(elem)
			if err != nil {
				return cty.NilVal, err
			}
			if child != cty.NilVal {
				elems = append(elems, child)
			}
		}

		if len(elems) == 0 {
			return cty.EmptyTupleVal, nil
		}
		return cty.TupleVal(elems), nil
	case string:
		return cty.StringVal(val), nil
	case bool:
		return cty.BoolVal(val), nil
	case float64:
		// encoding/json decodes every number as float64. The broker's HCL
		// schema distinguishes ints from floats, so integral values are
		// rendered without a decimal point.
		if val == math.Trunc(val) {
			return cty.NumberIntVal(int64(val)), nil
		}
		return cty.NumberFloatVal(val), nil
	case nil:
		return cty.NilVal, nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported JSON value type %T", v)
	}
}

func normalizeTrailingNewline(tokens hclwrite.Tokens) hclwrite.Tokens {
	for len(tokens) > 0 && tokens[len(tokens)-1].Type == hclsyntax.TokenNewline {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return tokens
	}
	return append(tokens, &hclwrite.Token{
		Type:  hclsyntax.TokenNewline,
		Bytes: []byte("\n"),
	})
}
