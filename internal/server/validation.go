package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/quorum/internal/qa"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	reactionTypeRule = "reaction_type"
	flagReasonRule   = "flag_reason"
)

var errUnsupportedValidator = errors.New("gin binding validator is not go-playground/validator")

var (
	registerValidatorsOnce sync.Once
	registerValidatorsErr  error
)

type validationRule struct {
	tag   string
	check validator.Func
}

func validationRules() []validationRule {
	return []validationRule{
		{tag: reactionTypeRule, check: func(fl validator.FieldLevel) bool {
			_, err := qa.ParseReactionType(fl.Field().String())
			return err == nil
		}},
		{tag: flagReasonRule, check: func(fl validator.FieldLevel) bool {
			_, err := qa.ParseFlagReason(fl.Field().String())
			return err == nil
		}},
	}
}

// registerValidators installs the custom binding rules on gin's validator once per process.
func registerValidators() error {
	registerValidatorsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerValidatorsErr = errUnsupportedValidator
			return
		}
		registerValidatorsErr = registerRules(engine, validationRules())
	})
	return registerValidatorsErr
}

func registerRules(engine *validator.Validate, rules []validationRule) error {
	for _, rule := range rules {
		if err := engine.RegisterValidation(rule.tag, rule.check); err != nil {
			return fmt.Errorf("register %s validation: %w", rule.tag, err)
		}
	}
	return nil
}
