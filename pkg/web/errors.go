package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/loki-platform/loki/pkg/dispatcher"
	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/integrations"
	"github.com/loki-platform/loki/pkg/persistence"
	"github.com/loki-platform/loki/pkg/services"
	"github.com/loki-platform/loki/pkg/vault"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("bad_request").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unprocessable(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
}

func notFound(c fiber.Ctx, errType, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType(errType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, errType, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusConflict).
		WithInstance(c.Path()).
		WithType(errType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps service layer errors onto RFC 7807 responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return unprocessable(c, err.Error())

	case integrations.IsProviderNotSupported(err),
		integrations.IsUnknownAction(err),
		integrations.IsMissingParameter(err):
		problem := problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
			WithInstance(c.Path()).
			WithType("invalid_action").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case vault.IsProviderNotConfigured(err):
		problem := problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
			WithInstance(c.Path()).
			WithType("provider_not_configured").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case vault.IsStateNotFound(err):
		problem := problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
			WithInstance(c.Path()).
			WithType("invalid_state").
			WithDetail("authorization state is unknown, expired, or already used")

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case dispatcher.IsRateLimitExceeded(err):
		problem := problems.NewStatusProblem(fiber.StatusTooManyRequests).
			WithInstance(c.Path()).
			WithType("rate_limit_exceeded").
			WithDetail(err.Error())

		return c.Status(fiber.StatusTooManyRequests).JSON(problem)

	case dispatcher.IsNotDeployed(err):
		return conflict(c, "workflow_not_deployed", "workflow is not deployed")

	case dispatcher.IsNotCancellable(err):
		return conflict(c, "not_cancellable", "execution is already terminal")

	case services.IsConflictError(err):
		return conflict(c, "conflict", err.Error())

	case vault.IsReauthRequired(err), persistence.IsTokenNotFound(err):
		return conflict(c, "reauth_required", "integration requires reauthorization")

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")

	case persistence.IsIntegrationNotFound(err):
		return notFound(c, "integration_not_found", "integration not found")

	default:
		requestErr := &engine.RequestError{}
		if errors.As(err, &requestErr) {
			problem := problems.NewStatusProblem(fiber.StatusBadGateway).
				WithInstance(c.Path()).
				WithType("engine_error").
				WithDetail(err.Error())

			return c.Status(fiber.StatusBadGateway).JSON(problem)
		}

		return internalError(c, err)
	}
}
