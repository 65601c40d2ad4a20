package app

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/valyala/fasthttp"
)

const handlerTimeout = 5 * time.Second

func (app *Application) paymentsHandler(ctx *fasthttp.RequestCtx) {
	var req models.PaymentRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid JSON")
		return
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	err := app.services.Payment.Send(reqCtx, req)
	switch {
	case err == nil:
		writeJSON(ctx, fasthttp.StatusAccepted, models.PaymentProcessorResponse{Message: "payment accepted"})
	case errors.Is(err, models.ErrValidation):
		writeError(ctx, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrDuplicateSubmission):
		writeError(ctx, fasthttp.StatusConflict, err.Error())
	case errors.Is(err, models.ErrQueueFull):
		writeError(ctx, fasthttp.StatusServiceUnavailable, err.Error())
	default:
		app.logger.Error("failed to accept payment", "correlationId", req.CorrelationID, "error", err)
		writeError(ctx, fasthttp.StatusInternalServerError, "payment failed")
	}
}

func (app *Application) purgeHandler(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := app.services.Payment.Purge(reqCtx); err != nil {
		app.logger.Error("failed to purge payments", "error", err)
		writeError(ctx, fasthttp.StatusInternalServerError, "purge failed")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, models.PaymentProcessorResponse{Message: "payments purged"})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(data)
}

func writeError(ctx *fasthttp.RequestCtx, status int, message string) {
	writeJSON(ctx, status, map[string]string{"error": message})
}

func methodNotAllowed(ctx *fasthttp.RequestCtx) {
	writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
}
