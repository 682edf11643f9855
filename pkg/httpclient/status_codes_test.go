package httpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains []int
		excludes []int
		wantErr  bool
		wantNil  bool
	}{
		{name: "empty", input: "", wantNil: true},
		{name: "single code", input: "404", contains: []int{404}, excludes: []int{403}},
		{name: "range", input: "200-299", contains: []int{200, 250, 299}, excludes: []int{199, 300}},
		{name: "mixed", input: "200-299,404,500-599", contains: []int{204, 404, 503}, excludes: []int{302, 405}},
		{name: "whitespace", input: " 200 - 299 , 404 ", contains: []int{200, 404}},
		{name: "inverted range", input: "299-200", wantErr: true},
		{name: "out of range", input: "600", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ParseStatusCodes(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, set)
				return
			}
			for _, code := range tt.contains {
				assert.True(t, set.Contains(code), "expected %d in set", code)
			}
			for _, code := range tt.excludes {
				assert.False(t, set.Contains(code), "expected %d not in set", code)
			}
		})
	}
}

func TestStatusCodeSetNilSafe(t *testing.T) {
	var set *StatusCodeSet
	assert.True(t, set.IsEmpty())
	assert.False(t, set.Contains(200))
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	client := NewWithDefaults()

	registry.Register("upstream", client)
	assert.Equal(t, client, registry.Get("upstream"))
	assert.Equal(t, []string{"upstream"}, registry.Names())

	statuses := registry.GetCircuitBreakerStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "upstream", statuses[0].Name)
	assert.Equal(t, "closed", statuses[0].State)

	registry.Unregister("upstream")
	assert.Nil(t, registry.Get("upstream"))
}
