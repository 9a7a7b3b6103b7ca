package server

import (
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/engagement"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	registerOnce        sync.Once
	registerErr         error
	errValidatorBackend = errors.New("gin binding validator is not go-playground/validator")
)

// registerValidators adds the slug and reaction tags to gin's validator.
func registerValidators() error {
	registerOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = errValidatorBackend
			return
		}
		if err := engine.RegisterValidation("slug", validateSlug); err != nil {
			registerErr = err
			return
		}
		registerErr = engine.RegisterValidation("reaction", validateReaction)
	})
	return registerErr
}

func validateSlug(fl validator.FieldLevel) bool {
	_, err := content.ValidateSlug(fl.Field().String())
	return err == nil
}

func validateReaction(fl validator.FieldLevel) bool {
	_, err := engagement.ParseReactionType(fl.Field().String())
	return err == nil
}
