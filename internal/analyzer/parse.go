package analyzer

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// proposal is the wire shape the model is asked to produce.
type proposal struct {
	Kind       string            `json:"action_kind"`
	Target     string            `json:"target_element_ref"`
	FillValues map[string]string `json:"fill_values"`
	URL        string            `json:"url"`
	Confidence float64           `json:"confidence"`
	Rationale  string            `json:"rationale"`
}

func (p proposal) isNoAction() bool {
	switch strings.ToLower(strings.TrimSpace(p.Kind)) {
	case "none", "no_action", "wait":
		return true
	}
	return false
}

func (p proposal) toPlan() *schemas.ActionPlan {
	conf := p.Confidence
	if math.IsNaN(conf) || conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}
	plan := &schemas.ActionPlan{
		Target:     strings.TrimSpace(p.Target),
		Kind:       schemas.ActionKind(strings.ToLower(strings.TrimSpace(p.Kind))),
		URL:        strings.TrimSpace(p.URL),
		Confidence: conf,
		Rationale:  p.Rationale,
	}
	if len(p.FillValues) > 0 {
		plan.FillValues = make(map[string]string, len(p.FillValues))
		for k, v := range p.FillValues {
			plan.FillValues[strings.TrimSpace(k)] = v
		}
	}
	return plan
}

// parseProposal extracts a JSON object from the model response, accepting a
// fenced code block, raw JSON, or JSON surrounded by prose.
func parseProposal(response string) (proposal, error) {
	response = strings.TrimSpace(response)
	var p proposal
	var jsonStringToParse string

	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		jsonStringToParse = strings.TrimSpace(matches[1])
	} else {
		first := strings.Index(response, "{")
		last := strings.LastIndex(response, "}")
		if first != -1 && last > first {
			jsonStringToParse = response[first : last+1]
		} else {
			jsonStringToParse = response
		}
	}

	if jsonStringToParse == "" {
		return p, fmt.Errorf("could not find any JSON in the LLM response")
	}
	if err := json.Unmarshal([]byte(jsonStringToParse), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal extracted JSON: %w", err)
	}
	if strings.TrimSpace(p.Kind) == "" {
		return p, fmt.Errorf("LLM response missing required 'action_kind' field")
	}
	return p, nil
}
