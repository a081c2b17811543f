package pulsar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamscope/errors"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"fully qualified", "persistent://acme/orders/created", "persistent://acme/orders/created", false},
		{"non-persistent", "non-persistent://acme/orders/created", "non-persistent://acme/orders/created", false},
		{"tenant/ns/topic", "acme/orders/created", "persistent://acme/orders/created", false},
		{"bare topic defaults", "created", "persistent://public/default/created", false},
		{"empty", "", "", true},
		{"two segments", "acme/created", "", true},
		{"four segments", "a/b/c/d", "", true},
		{"unknown domain", "weird://a/b/c", "", true},
		{"empty segment", "acme//created", "", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tn, err := parseTopic(test.input)
			if test.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err), "expected invalid classification, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, tn.String())
		})
	}
}

func TestTopicName_RestPath(t *testing.T) {
	tn, err := parseTopic("persistent://acme/orders/created")
	require.NoError(t, err)
	assert.Equal(t, "persistent/acme/orders/created", tn.restPath())
}
