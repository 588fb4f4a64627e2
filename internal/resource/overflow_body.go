package resource

import "encoding/json"

// marshalOverflow/unmarshalOverflow serialize the subset of a record's
// flattened fields that the codec's overflow resolution moved into the
// object body (spec.md §4.2 step 5, §6 "_overflow").
func marshalOverflow(fields map[string]interface{}) ([]byte, error) {
	return json.Marshal(fields)
}

func unmarshalOverflow(raw []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
