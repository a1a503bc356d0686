package server

import (
	"errors"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func TestRegisterValidatorsInstallsRules(t *testing.T) {
	if err := registerValidators(); err != nil {
		t.Fatalf("unexpected registration error: %v", err)
	}

	testCases := []struct {
		name    string
		payload interface{}
		tag     string
	}{
		{name: "valid reaction", payload: reactionRequestPayload{Type: "helpful"}},
		{name: "unknown reaction", payload: reactionRequestPayload{Type: "love"}, tag: reactionTypeRule},
		{name: "valid flag", payload: flagRequestPayload{Reason: "SPAM"}},
		{name: "unknown flag reason", payload: flagRequestPayload{Reason: "BORING"}, tag: flagReasonRule},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := binding.Validator.ValidateStruct(testCase.payload)
			if testCase.tag == "" {
				if err != nil {
					t.Fatalf("expected payload to pass, got %v", err)
				}
				return
			}
			var validationErrs validator.ValidationErrors
			if !errors.As(err, &validationErrs) || validationErrs[0].Tag() != testCase.tag {
				t.Fatalf("expected %s failure, got %v", testCase.tag, err)
			}
		})
	}
}

func TestRegisterRulesReportsFailure(t *testing.T) {
	err := registerRules(validator.New(), []validationRule{{tag: "", check: func(validator.FieldLevel) bool { return true }}})
	if err == nil {
		t.Fatalf("expected an empty tag to be rejected")
	}
	if err := registerRules(validator.New(), validationRules()); err != nil {
		t.Fatalf("unexpected error registering the stock rules: %v", err)
	}
}
