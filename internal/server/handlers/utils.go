package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// maxBodySize bounds request bodies accepted by the API
const maxBodySize = 64 << 10

// RespondJSON sends a JSON response with the given status code and data
func RespondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// RespondError sends {"error": msg} with the given status code
func RespondError(w http.ResponseWriter, statusCode int, err error) {
	RespondJSON(w, statusCode, map[string]string{"error": err.Error()})
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(req *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}
