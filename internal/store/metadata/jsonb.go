package metadata

import "github.com/bytedance/sonic"

func marshalJSONB(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return sonic.Marshal(m)
}

func unmarshalJSONB(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
