package cerr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/revloop/revloop/pkg/clog"
)

type httpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a 200 response with the JSON encoding of v.
func WriteJSON(ctx context.Context, w http.ResponseWriter, v any) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		WriteJSONError(ctx, w, NewError(Internal, "server error", err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		clog.AddError(ctx, err)
	}
}

// WriteError maps err to an HTTP status and writes a JSON error body.
// Foreign errors become Unknown; context cancellation becomes Canceled.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		WriteJSONError(ctx, w, NewError(Canceled, "connection closed", err))
		return
	}

	clog.AddError(ctx, err)
	var cErr *Error
	if errors.As(err, &cErr) {
		if cErr.Stack != "" {
			clog.AddStack(ctx, cErr.Stack)
		}
		WriteJSONError(ctx, w, cErr)
		return
	}
	WriteJSONError(ctx, w, NewError(Unknown, "unknown error", err))
}

func WriteJSONError(ctx context.Context, w http.ResponseWriter, origErr *Error) {
	body, err := json.Marshal(httpError{Code: origErr.Code.String(), Message: origErr.Msg})
	if err != nil {
		body = []byte(`{"code":"Internal","message":"server error"}`)
		clog.AddError(ctx, err)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(origErr.Code.HTTPCode())
	if _, err := w.Write(body); err != nil {
		clog.AddError(ctx, err)
	}
}
