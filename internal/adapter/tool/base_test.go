package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type actionParams struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

func TestDispatch(t *testing.T) {
	handler := Dispatch(
		func(p actionParams) string { return p.Action },
		ActionMap[actionParams]{
			"create": func(_ context.Context, p actionParams) (any, error) { return "created:" + p.Value, nil },
			"delete": func(_ context.Context, p actionParams) (any, error) { return "deleted:" + p.Value, nil },
		},
	)
	span := trace.SpanFromContext(context.Background())

	out, err := handler(context.Background(), span, actionParams{Action: "create", Value: "a"})
	require.NoError(t, err)
	assert.Equal(t, "created:a", out)

	out, err = handler(context.Background(), span, actionParams{Action: "delete", Value: "b"})
	require.NoError(t, err)
	assert.Equal(t, "deleted:b", out)

	_, err = handler(context.Background(), span, actionParams{Action: "rename"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want: create, delete")
}
