package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"dpp/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// NewValidator reports field names by their json tag so validation errors
// line up with request bodies.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func validateStruct(v *validator.Validate, payload any) error {
	if v == nil {
		return nil
	}
	return v.Struct(payload)
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, errorResponse{Message: err.Error()})
}

func writeFieldErrors(c echo.Context, fields map[string]string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Message: "validation failed", Fields: fields})
}

func writeValidationError(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return writeError(c, http.StatusBadRequest, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = validationMessage(fe)
	}
	return writeFieldErrors(c, fields)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "enter a valid email address"
	case "min":
		return "ensure this field has at least " + fe.Param() + " characters"
	case "max":
		return "ensure this field has no more than " + fe.Param() + " characters"
	case "eqfield":
		return "password fields didn't match"
	default:
		return "invalid value"
	}
}

func writeServiceError(c echo.Context, err error) error {
	var fieldErr *service.FieldError
	if errors.As(err, &fieldErr) {
		return writeFieldErrors(c, map[string]string{fieldErr.Field: fieldErr.Err.Error()})
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidToken):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrEmailAlreadyRegistered), errors.Is(err, service.ErrUsernameTaken):
		status = http.StatusConflict
	case errors.Is(err, service.ErrEmailNotVerified):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrPassportNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrDeliveryFailed):
		// The wrapped transport error stays in the logs.
		logrus.WithError(err).Error("magic link delivery failed")
		return writeError(c, http.StatusInternalServerError, service.ErrDeliveryFailed)
	default:
		logrus.WithError(err).WithField("path", c.Path()).Error("request failed")
		return writeError(c, status, errors.New("internal server error"))
	}
	return writeError(c, status, err)
}

func stringPtr(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
