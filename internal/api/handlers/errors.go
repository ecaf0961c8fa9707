package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/agent-dispatch/internal/repository"
	apperrors "github.com/acme/agent-dispatch/pkg/errors"
)

// translateError maps service-layer errors onto HTTP status codes.
func translateError(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, repository.ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
