package aiextract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DataFields are the keys of the extracted_data section.
var DataFields = []string{
	"client_name", "total_value", "currency", "start_date",
	"end_date", "payment_milestones", "payment_frequency", "confidence_score",
}

// The response must be either the sectioned shape or a flat object that
// carries at least one data field and no extracted_data key.
const responseSchema = `{
  "oneOf": [
    {
      "type": "object",
      "required": ["extracted_data"],
      "properties": {
        "extracted_data": {"type": "object"},
        "clarifications_needed": {"type": ["array", "null"]}
      }
    },
    {
      "type": "object",
      "not": {"required": ["extracted_data"]},
      "anyOf": [
        {"required": ["client_name"]},
        {"required": ["total_value"]},
        {"required": ["currency"]},
        {"required": ["start_date"]},
        {"required": ["end_date"]},
        {"required": ["payment_milestones"]},
        {"required": ["payment_frequency"]},
        {"required": ["confidence_score"]}
      ]
    }
  ]
}`

var schema = jsonschema.MustCompileString("contract-extraction.json", responseSchema)

// responseShape is the top-level layout the model answered with.
type responseShape int

const (
	shapeSectioned responseShape = iota
	shapeLegacyFlat
)

func (s responseShape) String() string {
	if s == shapeLegacyFlat {
		return "legacy_flat"
	}
	return "sectioned"
}

// Response is the validated model answer.
type Response struct {
	Shape          string                 `json:"shape"`
	Data           Data                   `json:"extracted_data"`
	Clarifications []ClarificationRequest `json:"clarifications_needed"`
}

// ParseResponse resolves the model text into a Response. Anything that is not
// one of the two accepted shapes is ErrMalformedResponse.
func ParseResponse(text string) (*Response, error) {
	body, ok := isolateJSON(text)
	if !ok {
		return nil, &ClassifiedError{Class: ErrMalformedResponse, Err: eris.New("aiextract: no JSON object in response")}
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, &ClassifiedError{Class: ErrMalformedResponse, Err: eris.Wrap(err, "aiextract: decode response")}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &ClassifiedError{Class: ErrMalformedResponse, Err: eris.Wrap(err, "aiextract: response shape")}
	}

	obj := doc.(map[string]any)
	shape := shapeLegacyFlat
	if _, ok := obj["extracted_data"]; ok {
		shape = shapeSectioned
	}

	resp := &Response{Shape: shape.String()}
	switch shape {
	case shapeSectioned:
		data, _ := obj["extracted_data"].(map[string]any)
		resp.Data = normalizeData(data)
		list, _ := obj["clarifications_needed"].([]any)
		resp.Clarifications = normalizeClarifications(list)
	case shapeLegacyFlat:
		resp.Data = normalizeData(obj)
	}
	return resp, nil
}

// isolateJSON strips a surrounding code fence. The remaining body must be a
// single JSON object; prose around it is rejected.
func isolateJSON(text string) (string, bool) {
	s := strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```JSON", "```"} {
		if strings.HasPrefix(s, fence) {
			s = strings.TrimPrefix(s, fence)
			s = strings.TrimSuffix(strings.TrimSpace(s), "```")
			break
		}
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	return s, true
}
