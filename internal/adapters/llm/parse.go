package llm

// Model replies are untrusted text. The parser extracts the first JSON object
// (fenced or inline) and coerces the fields, tolerating the usual model quirks:
// markdown fences, prose around the JSON, confidence given in percent.

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/alejandrodnm/arena/internal/domain"
)

// ParseDecision parses one model reply into a typed decision.
func ParseDecision(content string) (domain.AgentDecision, error) {
	raw, ok := extractJSONObject(content)
	if !ok {
		return domain.AgentDecision{}, fmt.Errorf("no JSON object in reply")
	}
	if !gjson.Valid(raw) {
		return domain.AgentDecision{}, fmt.Errorf("malformed JSON in reply")
	}
	parsed := gjson.Parse(raw)

	action := domain.Action(strings.ToUpper(strings.TrimSpace(parsed.Get("action").String())))
	switch action {
	case domain.ActionBet, domain.ActionSell, domain.ActionHold:
	default:
		return domain.AgentDecision{}, fmt.Errorf("unknown action %q", parsed.Get("action").String())
	}

	d := domain.AgentDecision{
		Action:    action,
		MarketID:  strings.TrimSpace(parsed.Get("market_id").String()),
		Side:      strings.TrimSpace(parsed.Get("side").String()),
		Amount:    parsed.Get("amount").Float(),
		Shares:    parsed.Get("shares").Float(),
		Reasoning: strings.TrimSpace(parsed.Get("reasoning").String()),
	}
	if conf := parsed.Get("confidence"); conf.Exists() {
		d.Confidence = coerceConfidence(conf.Float())
		d.HasConfidence = true
	}

	switch action {
	case domain.ActionBet:
		if d.MarketID == "" || d.Side == "" {
			return domain.AgentDecision{}, fmt.Errorf("BET missing market_id or side")
		}
		if d.Amount <= 0 {
			return domain.AgentDecision{}, fmt.Errorf("BET with non-positive amount")
		}
	case domain.ActionSell:
		if d.MarketID == "" || d.Side == "" {
			return domain.AgentDecision{}, fmt.Errorf("SELL missing market_id or side")
		}
	}
	return d, nil
}

// coerceConfidence maps percent-style answers (70, "70%") into probabilities.
func coerceConfidence(v float64) float64 {
	if v > 1 && v <= 100 {
		v /= 100
	}
	return domain.Clamp01(v)
}

// extractJSONObject returns the first balanced JSON object in s, preferring
// the contents of a ```json fence when one exists.
func extractJSONObject(s string) (string, bool) {
	if fenced, ok := extractFenced(s); ok {
		s = fenced
	}
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	return "", false
}

// extractFenced pulls the body of the first markdown code fence.
func extractFenced(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start == -1 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		// skip the language tag line ("json", "JSON" or empty)
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}
