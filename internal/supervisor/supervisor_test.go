package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/lumeon/arbiter/internal/llm"
	"github.com/lumeon/arbiter/internal/orcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type repairClient struct {
	responses []string
	calls     int
}

func (c *repairClient) Generate(_ context.Context, _ llm.Request) (llm.Response, error) {
	if c.calls >= len(c.responses) {
		return llm.Response{}, errors.New("no more scripted responses")
	}
	text := c.responses[c.calls]
	c.calls++
	return llm.Response{Text: text}, nil
}

func (c *repairClient) SupportsStreaming() bool { return false }

const addressSchema = `{
  "type": "object",
  "properties": { "city": { "type": "string" } },
  "required": ["city"]
}`

func TestRepairValidInputIsIdempotent(t *testing.T) {
	t.Parallel()

	client := &repairClient{}
	s := New(client, 2)

	doc, err := s.Repair(context.Background(), `{"city": "Oslo"}`, addressSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"city": "Oslo"}`, string(doc))
	assert.Equal(t, 0, client.calls, "valid input must not hit the llm")
}

func TestRepairStripsMarkdownFencesLocally(t *testing.T) {
	t.Parallel()

	client := &repairClient{}
	s := New(client, 2)

	doc, err := s.Repair(context.Background(), "```json\n{\"city\": \"Oslo\"}\n```", addressSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"city": "Oslo"}`, string(doc))
	assert.Equal(t, 0, client.calls, "extraction handles fenced JSON without a round trip")
}

func TestRepairFixesBrokenJSONViaLLM(t *testing.T) {
	t.Parallel()

	client := &repairClient{responses: []string{`{"city": "Oslo"}`}}
	s := New(client, 2)

	doc, err := s.Repair(context.Background(), `{"city": "Oslo"`, addressSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"city": "Oslo"}`, string(doc))
	assert.Equal(t, 1, client.calls)
}

func TestRepairRejectsSchemaInvalidResult(t *testing.T) {
	t.Parallel()

	// Parseable but schema-invalid on both attempts.
	client := &repairClient{responses: []string{`{"town": "Oslo"}`, `{"town": "Oslo"}`}}
	s := New(client, 2)

	_, err := s.Repair(context.Background(), `{"town": "Oslo"`, addressSchema)
	require.Error(t, err)
	oe, ok := orcerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, orcerr.CodeSupervisorExhausted, oe.Code)
	assert.Equal(t, 2, client.calls, "repair stops after max attempts")
}

func TestRepairWithoutClientFailsFast(t *testing.T) {
	t.Parallel()

	s := New(nil, 2)
	_, err := s.Repair(context.Background(), "not json at all", "")
	require.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"object in prose", `Sure! Here it is: {"a":1} hope that helps`, `{"a":1}`, true},
		{"array in prose", `result: [1,2,3] done`, `[1,2,3]`, true},
		{"array before object text", `[{"a":1}]`, `[{"a":1}]`, true},
		{"no json", "nothing here", "", false},
		{"unbalanced", "{oops", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractJSON([]byte(tc.in))
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, string(got))
			}
		})
	}
}
