package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/cdpgrab/internal/cdp"
	"github.com/dgnsrekt/cdpgrab/internal/snapshot"
	"github.com/dgnsrekt/cdpgrab/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is the capture surface exposed over HTTP. *workflow.Runner
// satisfies it.
type Service interface {
	Targets(ctx context.Context) ([]cdp.Target, error)
	FetchHTML(ctx context.Context, req workflow.Request) (workflow.Result, error)
	CaptureScreenshot(ctx context.Context, req workflow.Request) (workflow.Result, error)
}

// NewServer builds the HTTP handler. Captures are written to and indexed in
// store.
func NewServer(svc Service, store *snapshot.Store) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("cdpgrab API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	registerMiscHandlers(api)
	registerCaptureHandlers(api, svc, store)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var notFound *snapshot.ErrNotFound
	if errors.As(err, &notFound) {
		return huma.Error404NotFound(notFound.Error())
	}
	var coded *cdp.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdp.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdp.CodeNoTargetFound:
			return huma.Error404NotFound(coded.Message)
		case cdp.CodeCommandTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdp.CodeDirectoryUnavailable, cdp.CodeDirectoryParse, cdp.CodeConnectFailed,
			cdp.CodeCommandError, cdp.CodeSessionClosed:
			return huma.Error502BadGateway(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
