package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
)

const maxBodyBytes = 1 << 20

var errMalformedBody = apperr.Validation("malformed request body")

// statusOf maps an error kind to its HTTP status.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Bytes())))
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeData writes a success envelope around the value encoded by data.
func writeData(w http.ResponseWriter, status int, data func(e *jx.Encoder)) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("data", data)
	})
	write(w, status, &e)
}

// writeMessage writes {"success":ok,"message":msg}.
func writeMessage(w http.ResponseWriter, status int, ok bool, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(ok) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	write(w, status, &e)
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	write(w, status, &e)
}

// writeError classifies err and writes the error envelope. Unclassified
// and gateway errors are logged; their details never reach the client.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	if status >= http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Stringer("kind", kind), zap.Error(err))
	}
	writeStatus(w, status, apperr.Message(err))
}

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

// decodeBody reads r's body and walks its top-level object with field.
func decodeBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := readBody(r)
	if err != nil {
		return &apperr.Error{Kind: apperr.KindValidation, Message: "request body too large or unreadable", Err: err}
	}
	if len(body) == 0 {
		return errMalformedBody
	}
	err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return &apperr.Error{Kind: apperr.KindValidation, Message: errMalformedBody.Message, Err: err}
	}
	return nil
}

// optStr decodes a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
