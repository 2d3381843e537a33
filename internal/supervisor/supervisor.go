// Package supervisor implements narrow best-effort repair of malformed LLM
// output, used wherever text must parse as structured data.
package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumeon/arbiter/internal/llm"
	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultMaxAttempts bounds repair rounds.
const DefaultMaxAttempts = 2

const systemPrompt = `You repair malformed JSON. Fix syntax and structure only:
- balance braces and brackets, quote keys, remove trailing commas
- strip markdown fences and prose surrounding the JSON
- never invent new fields, tools, or values
- never change the meaning of existing fields
Output ONLY the corrected JSON document, nothing else.`

// Supervisor repairs structurally invalid JSON via the LLM.
type Supervisor struct {
	client      llm.Client
	maxAttempts int
}

// New constructs a supervisor. maxAttempts <= 0 selects the default.
func New(client llm.Client, maxAttempts int) *Supervisor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Supervisor{client: client, maxAttempts: maxAttempts}
}

// Repair returns a JSON document parsed from text, optionally schema-valid.
// Already-valid input is returned unchanged. After exhausting attempts it
// fails with a supervisor error.
func (s *Supervisor) Repair(ctx context.Context, text string, schema string) (json.RawMessage, error) {
	if doc, ok := tryParse(text, schema); ok {
		return doc, nil
	}

	candidate := text
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if s.client == nil {
			break
		}
		prompt := buildRepairPrompt(candidate, schema)
		resp, err := s.client.Generate(ctx, llm.Request{
			Prompt:       prompt,
			SystemPrompt: systemPrompt,
			MaxTokens:    4096,
			Temperature:  0,
		})
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("supervisor: repair generation failed")
			continue
		}
		if doc, ok := tryParse(resp.Text, schema); ok {
			return doc, nil
		}
		candidate = resp.Text
	}

	return nil, orcerr.New(orcerr.CodeSupervisorExhausted, orcerr.ComponentSupervisor, orcerr.SeverityError,
		fmt.Sprintf("repair failed after %d attempts", s.maxAttempts))
}

// tryParse extracts, parses, and (when a schema is given) validates JSON.
func tryParse(text, schema string) (json.RawMessage, bool) {
	raw := []byte(text)
	var probe any
	if json.Unmarshal(raw, &probe) != nil {
		extracted, ok := ExtractJSON(raw)
		if !ok || json.Unmarshal(extracted, &probe) != nil {
			return nil, false
		}
		raw = extracted
	}
	if schema != "" {
		result, err := gojsonschema.Validate(
			gojsonschema.NewStringLoader(schema),
			gojsonschema.NewBytesLoader(raw),
		)
		if err != nil || !result.Valid() {
			return nil, false
		}
	}
	return json.RawMessage(raw), true
}

// ExtractJSON pulls the outermost JSON object or array out of noisy text.
func ExtractJSON(data []byte) ([]byte, bool) {
	objStart := bytes.IndexByte(data, '{')
	arrStart := bytes.IndexByte(data, '[')
	start := objStart
	endByte := byte('}')
	if start == -1 || (arrStart != -1 && arrStart < objStart) {
		start = arrStart
		endByte = ']'
	}
	if start == -1 {
		return nil, false
	}
	end := bytes.LastIndexByte(data, endByte)
	if end == -1 || start >= end {
		return nil, false
	}
	return data[start : end+1], true
}

func buildRepairPrompt(candidate, schema string) string {
	var b strings.Builder
	b.WriteString("The following text should be a single valid JSON document but fails to parse")
	if schema != "" {
		b.WriteString(" or does not match the required schema")
	}
	b.WriteString(".\n\n")
	if schema != "" {
		b.WriteString("Required JSON schema:\n")
		b.WriteString(schema)
		b.WriteString("\n\n")
	}
	b.WriteString("Broken text:\n")
	b.WriteString(candidate)
	return b.String()
}
