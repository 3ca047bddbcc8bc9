package schema

import (
	"encoding/json"
	"fmt"

	"github.com/urmzd/ninho/pkg/device"
)

// Commands holds the payload schema of every command the mission firmware
// understands. Commands without an entry are sent unchecked.
var Commands = map[string]json.RawMessage{
	"SET_ID": json.RawMessage(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {
			"userId": {"type": "string", "minLength": 1, "maxLength": 64}
		},
		"required": ["userId"]
	}`),
	"SET_MISSION": json.RawMessage(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {
			"missionId": {"type": "string", "pattern": "^[A-Z0-9_]+$"}
		},
		"required": ["missionId"]
	}`),
	"GET_STATUS": json.RawMessage(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"additionalProperties": false
	}`),
	"GET_VERSION": json.RawMessage(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"additionalProperties": false
	}`),
}

// ValidateCommand checks an outbound command payload against its schema.
func (v *Validator) ValidateCommand(command string, payload map[string]any) error {
	doc, ok := Commands[command]
	if !ok {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if err := v.Validate(doc, payload); err != nil {
		return fmt.Errorf("%w: %s: %v", device.ErrValidation, command, err)
	}
	return nil
}
