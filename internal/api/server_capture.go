package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/cdpgrab/internal/cdp"
	"github.com/dgnsrekt/cdpgrab/internal/snapshot"
	"github.com/dgnsrekt/cdpgrab/internal/workflow"
	"github.com/google/uuid"
)

type targetView struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"websocket_debugger_url,omitempty"`
}

type captureBody struct {
	Keyword string `json:"keyword,omitempty" doc:"Substring of the target URL (empty = first page target)"`
	Name    string `json:"name,omitempty" doc:"File name inside the capture directory (default: <id>.html or <id>.png)"`
}

type captureInput struct {
	Body captureBody
}

type captureOutput struct {
	Body struct {
		Capture snapshot.Meta `json:"capture"`
		URL     string        `json:"url"`
	}
}

type captureIDInput struct {
	CaptureID string `path:"capture_id"`
}

func registerCaptureHandlers(api huma.API, svc Service, store *snapshot.Store) {
	type targetsOutput struct {
		Body struct {
			Targets []targetView `json:"targets"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-targets",
		Method:      http.MethodGet,
		Path:        "/api/v1/targets",
		Summary:     "List debuggable browser targets",
		Tags:        []string{"Targets"},
	}, func(ctx context.Context, input *struct{}) (*targetsOutput, error) {
		targets, err := svc.Targets(ctx)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &targetsOutput{}
		out.Body.Targets = make([]targetView, 0, len(targets))
		for _, t := range targets {
			out.Body.Targets = append(out.Body.Targets, targetView{
				ID:                   string(t.ID),
				Type:                 t.Type,
				Title:                t.Title,
				URL:                  t.URL,
				WebSocketDebuggerURL: t.WebSocketDebuggerURL,
			})
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fetch-html",
		Method:      http.MethodPost,
		Path:        "/api/v1/html",
		Summary:     "Save the rendered HTML of a page",
		Tags:        []string{"Capture"},
	}, func(ctx context.Context, input *captureInput) (*captureOutput, error) {
		return capture(ctx, store, input.Body, snapshot.KindHTML, ".html", svc.FetchHTML)
	})

	huma.Register(api, huma.Operation{
		OperationID: "capture-screenshot",
		Method:      http.MethodPost,
		Path:        "/api/v1/screenshot",
		Summary:     "Save a full-page PNG screenshot of a page",
		Tags:        []string{"Capture"},
	}, func(ctx context.Context, input *captureInput) (*captureOutput, error) {
		return capture(ctx, store, input.Body, snapshot.KindScreenshot, ".png", svc.CaptureScreenshot)
	})

	type listCapturesOutput struct {
		Body struct {
			Captures []snapshot.Meta `json:"captures"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-captures",
		Method:      http.MethodGet,
		Path:        "/api/v1/captures",
		Summary:     "List captures (newest first)",
		Tags:        []string{"Captures"},
	}, func(ctx context.Context, input *struct{}) (*listCapturesOutput, error) {
		metas, err := store.List()
		if err != nil {
			return nil, mapErr(err)
		}
		out := &listCapturesOutput{}
		out.Body.Captures = metas
		return out, nil
	})

	type getCaptureOutput struct {
		Body snapshot.Meta
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-capture",
		Method:      http.MethodGet,
		Path:        "/api/v1/captures/{capture_id}",
		Summary:     "Get capture metadata",
		Tags:        []string{"Captures"},
	}, func(ctx context.Context, input *captureIDInput) (*getCaptureOutput, error) {
		meta, err := store.Get(strings.TrimSpace(input.CaptureID))
		if err != nil {
			return nil, mapErr(err)
		}
		return &getCaptureOutput{Body: meta}, nil
	})

	type captureContentOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-capture-content",
		Method:      http.MethodGet,
		Path:        "/api/v1/captures/{capture_id}/content",
		Summary:     "Download the captured file",
		Tags:        []string{"Captures"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Captured HTML or PNG",
				Content: map[string]*huma.MediaType{
					"text/html": {Schema: &huma.Schema{Type: "string"}},
					"image/png": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
				},
			},
		},
	}, func(ctx context.Context, input *captureIDInput) (*captureContentOutput, error) {
		data, meta, err := store.ReadContent(strings.TrimSpace(input.CaptureID))
		if err != nil {
			return nil, mapErr(err)
		}
		return &captureContentOutput{ContentType: meta.ContentType(), Body: data}, nil
	})

	type deleteCaptureOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "delete-capture",
		Method:      http.MethodDelete,
		Path:        "/api/v1/captures/{capture_id}",
		Summary:     "Delete a capture and its file",
		Tags:        []string{"Captures"},
	}, func(ctx context.Context, input *captureIDInput) (*deleteCaptureOutput, error) {
		if err := store.Delete(strings.TrimSpace(input.CaptureID)); err != nil {
			return nil, mapErr(err)
		}
		out := &deleteCaptureOutput{}
		out.Body.Status = "deleted"
		return out, nil
	})
}

type captureFunc func(ctx context.Context, req workflow.Request) (workflow.Result, error)

func capture(ctx context.Context, store *snapshot.Store, body captureBody, kind, ext string, run captureFunc) (*captureOutput, error) {
	id := uuid.NewString()
	file, err := captureFile(id, body.Name, ext)
	if err != nil {
		return nil, mapErr(err)
	}
	if body.Name != "" {
		existing, found, err := store.FindByFile(file)
		if err != nil {
			return nil, mapErr(err)
		}
		if found {
			return nil, huma.Error409Conflict("name already used by capture " + existing.ID)
		}
	}
	res, err := run(ctx, workflow.Request{Keyword: body.Keyword, Output: store.Path(file)})
	if err != nil {
		return nil, mapErr(err)
	}

	meta := snapshot.Meta{
		ID:        id,
		Kind:      kind,
		File:      file,
		TargetID:  string(res.Target.ID),
		URL:       res.Target.URL,
		Title:     res.Title,
		Bytes:     res.Bytes,
		Chars:     res.Chars,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Record(meta); err != nil {
		slog.Warn("capture metadata not recorded", "id", id, "file", file, "error", err)
		if rmErr := os.Remove(store.Path(file)); rmErr != nil {
			slog.Debug("unindexed capture cleanup failed", "file", file, "error", rmErr)
		}
		return nil, mapErr(err)
	}

	out := &captureOutput{}
	out.Body.Capture = meta
	out.Body.URL = "/api/v1/captures/" + id + "/content"
	return out, nil
}

// captureFile resolves the file name for a capture. Client-supplied names must
// be bare file names.
func captureFile(id, name, ext string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return id + ext, nil
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", cdp.NewError(cdp.CodeValidation, "name must be a bare file name", nil)
	}
	return name, nil
}
