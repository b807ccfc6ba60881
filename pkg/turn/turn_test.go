package turn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		turn    Turn
		wantErr bool
	}{
		{
			name: "text turn",
			turn: UserText("hello"),
		},
		{
			name: "call turn",
			turn: New(RoleModel, CallPart("c1", "read_file", map[string]any{"path": "a.txt"})),
		},
		{
			name: "response turn",
			turn: New(RoleTool, ResponsePart("c1", "read_file", map[string]any{"content": "hi"})),
		},
		{
			name:    "unknown role",
			turn:    Turn{Role: "assistant", Parts: []Part{TextPart("x")}},
			wantErr: true,
		},
		{
			name:    "empty part",
			turn:    Turn{Role: RoleModel, Parts: []Part{{}}},
			wantErr: true,
		},
		{
			name: "part with two payloads",
			turn: Turn{Role: RoleModel, Parts: []Part{{
				Text: "x",
				Call: &FunctionCall{Name: "read_file"},
			}}},
			wantErr: true,
		},
		{
			name:    "call without name",
			turn:    Turn{Role: RoleModel, Parts: []Part{{Call: &FunctionCall{}}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.turn.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWireShape(t *testing.T) {
	tn := New(RoleModel,
		TextPart("checking"),
		CallPart("", "list_files", map[string]any{"path": "."}),
	)
	tn.CreatedAt = Turn{}.CreatedAt

	data, err := json.Marshal(tn)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"role": "model",
		"parts": [
			{"text": "checking"},
			{"functionCall": {"name": "list_files", "args": {"path": "."}}}
		]
	}`, string(data))
}

func TestWireShapeFunctionResponse(t *testing.T) {
	raw := `{
		"role": "tool",
		"parts": [{"functionResponse": {"name": "read_file", "response": {"status": "ok"}}}]
	}`

	var tn Turn
	require.NoError(t, json.Unmarshal([]byte(raw), &tn))
	require.Len(t, tn.Responses(), 1)
	assert.Equal(t, "read_file", tn.Responses()[0].Name)
	assert.Equal(t, "ok", tn.Responses()[0].Response["status"])
}

func TestAccessors(t *testing.T) {
	tn := New(RoleModel,
		TextPart("a"),
		CallPart("c1", "read_file", nil),
		TextPart("b"),
		CallPart("c2", "list_files", nil),
	)

	assert.Equal(t, "ab", tn.Text())
	assert.True(t, tn.HasCalls())

	calls := tn.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[0].ID)
	assert.Equal(t, "c2", calls[1].ID)

	assert.False(t, UserText("no tools here").HasCalls())
}

func TestSize(t *testing.T) {
	small := UserText("hi")
	large := UserText("a much longer message body for budgeting")
	assert.Greater(t, large.Size(), small.Size())

	withArgs := New(RoleModel, CallPart("", "write_file", map[string]any{
		"path":    "notes.txt",
		"content": "payload",
	}))
	assert.Greater(t, withArgs.Size(), 0)
}
