package messaging

import "github.com/tidwall/gjson"

// BoardMessage is the usual shape of a published message. Publish accepts any
// JSON-encodable value; only the top-level "name" field is read back, for logs.
type BoardMessage struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// BoardLabel returns the top-level "name" of a JSON document, or "" when the
// document is not an object or has no string name.
func BoardLabel(body []byte) string {
	name := gjson.GetBytes(body, "name")
	if name.Type != gjson.String {
		return ""
	}
	return name.Str
}
