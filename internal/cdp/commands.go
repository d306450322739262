package cdp

import (
	"context"
	"encoding/json"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
)

// ScreenshotOptions controls Page.captureScreenshot.
type ScreenshotOptions struct {
	Format   string // "png" or "jpeg"
	Quality  int64  // jpeg only
	FullPage bool   // capture beyond the viewport
}

// Evaluate runs a JS expression in the page and returns its JSON value.
func (s *Session) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	params := runtime.Evaluate(expression).WithReturnByValue(true)

	raw, err := s.Execute(ctx, runtime.CommandEvaluate, params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		// Some hosts flatten the remote object into the reply.
		Value            json.RawMessage `json:"value"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(CodeCommandError, "decode evaluation result", err)
	}
	if ex := resp.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return nil, NewError(CodeCommandError, "evaluation exception: "+msg, nil)
	}
	switch {
	case len(resp.Result.Value) > 0:
		return resp.Result.Value, nil
	case len(resp.Value) > 0:
		return resp.Value, nil
	default:
		return nil, NewError(CodeCommandError, "evaluation returned no value (type "+resp.Result.Type+")", nil)
	}
}

// EvaluateString runs expression and decodes the result as a string.
func (s *Session) EvaluateString(ctx context.Context, expression string) (string, error) {
	value, err := s.Evaluate(ctx, expression)
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(value, &out); err != nil {
		return "", NewError(CodeCommandError, "evaluation result is not a string", err)
	}
	return out, nil
}

// CaptureScreenshot rasterizes the page and returns the base64-encoded image.
func (s *Session) CaptureScreenshot(ctx context.Context, opts ScreenshotOptions) (string, error) {
	format := opts.Format
	if format == "" {
		format = string(page.CaptureScreenshotFormatPng)
	}
	params := page.CaptureScreenshot().
		WithFormat(page.CaptureScreenshotFormat(format)).
		WithCaptureBeyondViewport(opts.FullPage)
	if format == string(page.CaptureScreenshotFormatJpeg) && opts.Quality > 0 {
		params = params.WithQuality(opts.Quality)
	}

	raw, err := s.Execute(ctx, page.CommandCaptureScreenshot, params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", NewError(CodeCommandError, "decode screenshot result", err)
	}
	if resp.Data == "" {
		return "", NewError(CodeCommandError, "screenshot returned no data", nil)
	}
	return resp.Data, nil
}
