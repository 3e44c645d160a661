package services

import (
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation wraps schema validation failures so handlers can map them to
// 422 responses.
var ErrValidation = errors.New("validation failed")

const createTaskSchema = `{
	"type": "object",
	"required": ["title", "budget", "service_tier"],
	"properties": {
		"title": {"type": "string", "minLength": 3, "maxLength": 120},
		"description": {"type": "string", "maxLength": 4000},
		"category": {"type": "string", "maxLength": 60},
		"budget": {"type": "integer", "minimum": 1},
		"service_tier": {"enum": ["STANDARD", "URGENT", "OVERNIGHT"]}
	}
}`

// Deposit callbacks arrive from the payment gateway; external_reference is
// the idempotency key for the deposit path.
const depositCallbackSchema = `{
	"type": "object",
	"required": ["user_id", "amount", "external_reference"],
	"properties": {
		"user_id": {"type": "string", "minLength": 36, "maxLength": 36},
		"amount": {"type": "integer", "minimum": 1},
		"external_reference": {"type": "string", "minLength": 1, "maxLength": 128},
		"method": {"type": "string", "maxLength": 40}
	}
}`

// Validator compiles the request schemas once and validates raw JSON bodies
// before any handler logic runs. Hard reject on mismatch.
type Validator struct {
	createTask      *jsonschema.Schema
	depositCallback *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	createTask, err := jsonschema.CompileString("https://tasklink.dev/schemas/create_task", createTaskSchema)
	if err != nil {
		return nil, fmt.Errorf("compile create_task schema: %w", err)
	}
	depositCallback, err := jsonschema.CompileString("https://tasklink.dev/schemas/deposit_callback", depositCallbackSchema)
	if err != nil {
		return nil, fmt.Errorf("compile deposit_callback schema: %w", err)
	}
	return &Validator{createTask: createTask, depositCallback: depositCallback}, nil
}

// ValidateCreateTask checks a decoded create-task body against its schema.
func (v *Validator) ValidateCreateTask(body any) error {
	if err := v.createTask.Validate(body); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ValidateDepositCallback checks a decoded gateway callback body.
func (v *Validator) ValidateDepositCallback(body any) error {
	if err := v.depositCallback.Validate(body); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
