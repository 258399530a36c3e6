package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// fallbackErrorMessage is surfaced when an error body is not JSON.
const fallbackErrorMessage = "network error"

// emptyObject is returned for successful responses without a JSON body.
var emptyObject = json.RawMessage(`{}`)

// normalize turns a status and body into either the JSON payload or an
// APIError. A 2xx response whose body is empty or not JSON is a success
// with an empty object.
func normalize(method, path string, status int, body []byte) (json.RawMessage, error) {
	if status >= 200 && status < 300 {
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
			return emptyObject, nil
		}

		return json.RawMessage(trimmed), nil
	}

	return nil, &APIError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Message:    errorMessage(status, body),
	}
}

func errorMessage(status int, body []byte) string {
	if !gjson.ValidBytes(body) {
		return fallbackErrorMessage
	}

	for _, field := range []string{"detail", "message"} {
		if msg := messageField(gjson.GetBytes(body, field)); msg != "" {
			return msg
		}
	}

	return fmt.Sprintf("HTTP %d", status)
}

// messageField reads a string field, or the first string of a list such
// as {"detail": ["..."]}. Other shapes yield "".
func messageField(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		for _, item := range v.Array() {
			if item.Type == gjson.String && item.String() != "" {
				return item.String()
			}
		}
	}

	return ""
}
