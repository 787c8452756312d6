package client

import (
	"encoding/json"
	"net/http"

	"github.com/gantryci/gantry/api"
)

// APIError carries a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// decodeError turns an error response into an APIError, falling back to
// the HTTP status line when the body is not the usual JSON shape.
func decodeError(resp *http.Response) error {
	var body api.Error
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}
