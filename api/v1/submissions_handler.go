package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"vkanalytics/internal/submissions"
)

const errSubmissionFailed = "Something went wrong. Please try again."

// SubmitFormAction handles POST /api/submissions/:endpoint.
func (h *Handlers) SubmitFormAction(ctx *cartridge.Context) error {
	endpoint, ok := submissions.ParseEndpoint(ctx.Params("endpoint"))
	if !ok {
		return errorJSON(ctx.Ctx, http.StatusNotFound, "Not found")
	}

	client := submissions.Client{
		IP:        getClientIP(ctx.Ctx),
		UserAgent: userAgent(ctx.Ctx),
	}
	body, err := h.deps.Submissions.Submit(ctx.UserContext(), endpoint, ctx.Body(), client)
	if err != nil {
		var reject *submissions.RejectError
		if errors.As(err, &reject) {
			return errorJSON(ctx.Ctx, http.StatusBadRequest, reject.Message)
		}
		ctx.Logger.Error("Submission failed",
			slog.String("endpoint", string(endpoint)),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": errSubmissionFailed,
			"code":  "SUBMISSION_ERROR",
		})
	}

	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return ctx.Status(http.StatusOK).Send(body)
}
