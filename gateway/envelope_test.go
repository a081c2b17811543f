package gateway

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamscope/errors"
)

func TestCodeClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{
			name: "already connected",
			err:  errors.WrapConflict(errors.ErrAlreadyConnected, "Registry", "Connect", "cluster local"),
			code: CodeAlreadyConnected,
		},
		{
			name: "not connected",
			err:  errors.WrapNotFound(errors.ErrNotConnected, "Registry", "Get", "cluster local"),
			code: CodeNotConnected,
		},
		{
			name: "stale handle",
			err:  errors.WrapNotFound(errors.ErrProducerNotFound, "Registry", "Producer", "lookup producer_9"),
			code: CodeNotFound,
		},
		{
			name: "invalid argument",
			err:  errors.WrapInvalid(errors.ErrMissingField, "Server", "decode", "cluster id"),
			code: CodeInvalidArgument,
		},
		{
			name: "transient",
			err:  errors.WrapTransient(errors.ErrReceiveTimeout, "Consumer", "Receive", "wait for message"),
			code: CodeTransient,
		},
		{
			name: "upstream",
			err:  errors.WrapUpstream(stderrors.New("broker exploded"), "Admin", "ListTenants", "GET /admin/v2/tenants"),
			code: CodeUpstreamError,
		},
		{
			name: "unclassified",
			err:  stderrors.New("something else"),
			code: CodeUpstreamError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, Code(tc.err))
		})
	}
}

func TestFailPreservesMessage(t *testing.T) {
	err := errors.WrapUpstream(stderrors.New("HTTP 500 from broker"), "Admin", "TopicStats", "fetch stats")

	env := Fail(err)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, err.Error(), env.Error.Message)
	assert.Nil(t, env.Data)
}

func TestEnvelopeShape(t *testing.T) {
	data, err := json.Marshal(OK(map[string]string{"clusterId": "local"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"clusterId":"local"}}`, string(data))

	data, err = json.Marshal(Fail(errors.WrapInvalid(errors.ErrMissingField, "Server", "decode", "topic")))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"success":false`)
	assert.Contains(t, string(data), `"code":"InvalidArgument"`)
}

func TestRequestIDUnique(t *testing.T) {
	assert.NotEqual(t, RequestID(), RequestID())
	assert.NotEmpty(t, RequestID())
}
