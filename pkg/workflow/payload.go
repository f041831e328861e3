package workflow

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// payloadValidator validates the typed payload shapes below.
var payloadValidator = validator.New()

type invitationPayload struct {
	InviteeEmail string `validate:"required,email"`
}

type documentUploadPayload struct {
	Artifacts []string `validate:"required,min=1,dive,required"`
}

type signaturePayload struct {
	EnvelopeID string `validate:"required"`
}

// ValidatePayload checks a completion payload against the task kind's
// required shape. It returns a validation error describing the first
// mismatch, or nil if the payload is acceptable.
func ValidatePayload(task *Task, payload Payload) error {
	switch task.Kind {
	case KindSimple:
		return nil

	case KindInvitation:
		p := invitationPayload{InviteeEmail: payload.String(PayloadKeyInviteeEmail)}
		if err := payloadValidator.Struct(p); err != nil {
			return NewValidationError("invitation requires a valid invitee_email", err).
				WithTask(task.ID).
				WithCode(ErrCodePayloadShape)
		}
		return nil

	case KindDocumentUpload:
		p := documentUploadPayload{Artifacts: payload.Strings(PayloadKeyArtifacts)}
		if err := payloadValidator.Struct(p); err != nil {
			return NewValidationError("document upload requires at least one stored artifact", err).
				WithTask(task.ID).
				WithCode(ErrCodePayloadShape)
		}
		return nil

	case KindSignatureRequest:
		p := signaturePayload{EnvelopeID: payload.String(PayloadKeyEnvelopeID)}
		if err := payloadValidator.Struct(p); err != nil {
			return NewValidationError("signature request requires an envelope_id", err).
				WithTask(task.ID).
				WithCode(ErrCodePayloadShape)
		}
		return nil

	case KindBranchDecision:
		return validateBranchPayload(task, payload)

	default:
		return NewValidationError(fmt.Sprintf("unknown task kind %q", task.Kind), nil).
			WithTask(task.ID).
			WithCode(ErrCodePayloadShape)
	}
}

// validateBranchPayload checks that the payload names a declared option and
// carries every field the option requires.
func validateBranchPayload(task *Task, payload Payload) error {
	name := payload.Option()
	if name == "" {
		return NewValidationError("branch decision requires an option", nil).
			WithTask(task.ID).
			WithCode(ErrCodePayloadShape)
	}

	opt, ok := task.Option(name)
	if !ok {
		return NewValidationError(fmt.Sprintf("option %q is not declared on this task", name), nil).
			WithTask(task.ID).
			WithCode(ErrCodeUnknownOption).
			WithDetail("option", name)
	}

	for _, rule := range opt.Requires {
		if err := checkFieldRule(task, name, rule, payload); err != nil {
			return err
		}
	}
	return nil
}

func checkFieldRule(task *Task, option string, rule FieldRule, payload Payload) error {
	if _, present := payload[rule.Field]; !present {
		return NewValidationError(
			fmt.Sprintf("option %q requires field %q", option, rule.Field), nil).
			WithTask(task.ID).
			WithCode(ErrCodePayloadShape).
			WithDetail("field", rule.Field)
	}

	switch rule.Type {
	case "number":
		n, ok := payload.Number(rule.Field)
		if !ok {
			return NewValidationError(
				fmt.Sprintf("field %q must be a number", rule.Field), nil).
				WithTask(task.ID).
				WithCode(ErrCodePayloadShape).
				WithDetail("field", rule.Field)
		}
		if rule.Positive && n <= 0 {
			return NewValidationError(
				fmt.Sprintf("field %q must be greater than zero", rule.Field), nil).
				WithTask(task.ID).
				WithCode(ErrCodePayloadShape).
				WithDetail("field", rule.Field)
		}
	case "string", "":
		if payload.String(rule.Field) == "" {
			return NewValidationError(
				fmt.Sprintf("field %q must be a non-empty string", rule.Field), nil).
				WithTask(task.ID).
				WithCode(ErrCodePayloadShape).
				WithDetail("field", rule.Field)
		}
	default:
		return NewValidationError(
			fmt.Sprintf("field %q declares unknown type %q", rule.Field, rule.Type), nil).
			WithTask(task.ID).
			WithCode(ErrCodePayloadShape)
	}
	return nil
}
