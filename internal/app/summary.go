package app

import (
	"context"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

func (app *Application) summaryHandler(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()

	from, err := parseBound(args.Peek("from"))
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid from: %v", err))
		return
	}
	to, err := parseBound(args.Peek("to"))
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid to: %v", err))
		return
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	summary, err := app.services.Summary.Summarize(reqCtx, from, to)
	if err != nil {
		app.logger.Error("failed to summarize payments", "error", err)
		writeError(ctx, fasthttp.StatusInternalServerError, "summary failed")
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, summary)
}

// parseBound reads an optional RFC 3339 timestamp. Fractional seconds are
// accepted.
func parseBound(raw []byte) (*time.Time, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
