package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Requests are small: an event, a mount or a peripheral.
const maxBodyBytes int64 = 64 * 1024

// decodeJSONBody decodes exactly one JSON value. Unknown fields are
// rejected so typos in field names fail loudly.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must hold a single JSON object")
	}
	return nil
}
