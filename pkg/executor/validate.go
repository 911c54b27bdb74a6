package executor

import "fmt"

// ValidateResponse rejects successful outcomes whose JSON object body carries an "error" key.
func ValidateResponse(out Outcome) error {
	if out.Kind != KindSuccess {
		return fmt.Errorf("outcome is %s, not success", out.Kind)
	}
	v, ok := out.Body.JSON()
	if !ok {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if msg, exists := obj["error"]; exists {
		return fmt.Errorf("response reported error: %v", msg)
	}
	return nil
}
