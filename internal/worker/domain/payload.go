package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// WhatsappSendPayload is the payload of a whatsapp_send job.
type WhatsappSendPayload struct {
	Phone    string            `json:"phone"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AutomationPayload is the payload of an automation_action job.
type AutomationPayload struct {
	Action   string          `json:"action"`
	Params   json.RawMessage `json:"params,omitempty"`
	RuleID   int64           `json:"rule_id,omitempty"`
	EventKey string          `json:"event_key,omitempty"`
}

// ActionLogOnly is applied when an automation payload names no action.
const ActionLogOnly = "log_only"

var errNotObject = errors.New("payload must be a JSON object")

func decodeObject(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return NewValidationError(ReasonInvalidPayload, errNotObject)
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return NewValidationError(ReasonInvalidPayload, err)
	}
	return nil
}

// DecodeWhatsappSend decodes the payload structurally. Phone and text
// content are checked by the handler.
func DecodeWhatsappSend(raw json.RawMessage) (*WhatsappSendPayload, error) {
	var p WhatsappSendPayload
	if err := decodeObject(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeAutomation decodes an automation payload, defaulting the action to log_only.
func DecodeAutomation(raw json.RawMessage) (*AutomationPayload, error) {
	var p AutomationPayload
	if err := decodeObject(raw, &p); err != nil {
		return nil, err
	}
	if p.Action == "" {
		p.Action = ActionLogOnly
	}
	return &p, nil
}

// ValidatePayload checks the payload shape for a known job type.
func ValidatePayload(jobType string, raw json.RawMessage) error {
	switch jobType {
	case JobTypeWhatsappSend:
		_, err := DecodeWhatsappSend(raw)
		return err
	case JobTypeAutomationAction:
		_, err := DecodeAutomation(raw)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, jobType)
	}
}
