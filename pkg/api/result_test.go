package api_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/buildflow/pkg/api"
)

func TestResultOrder(t *testing.T) {
	for i, r := range api.Results {
		for j, other := range api.Results {
			assert.Equal(t, i > j, r.IsWorseThan(other), "%s vs %s", r, other)
			assert.Equal(t,
				i <= j, r.IsBetterOrEqualTo(other), "%s vs %s", r, other,
			)
		}
	}
}

func TestResultCombine(t *testing.T) {
	for _, a := range api.Results {
		assert.Equal(t, a, a.Combine(a))
		assert.Equal(t, a, a.Combine(api.Success))
		assert.Equal(t, a, api.Success.Combine(a))
		for _, b := range api.Results {
			assert.Equal(t, a.Combine(b), b.Combine(a))
			for _, c := range api.Results {
				assert.Equal(t,
					a.Combine(b).Combine(c), a.Combine(b.Combine(c)),
				)
			}
		}
	}

	assert.Equal(t, api.Success, api.Combine())
	assert.Equal(t, api.Failure,
		api.Combine(api.Unstable, api.Failure, api.Success),
	)
	assert.Equal(t, api.Aborted, api.Combine(api.NotBuilt, api.Aborted))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "SUCCESS", api.Success.String())
	assert.Equal(t, "NOT_BUILT", api.NotBuilt.String())
	assert.Equal(t, "Result(9)", api.Result(9).String())
	assert.False(t, api.Result(9).IsValid())
}

func TestParseResult(t *testing.T) {
	tests := map[string]api.Result{
		"SUCCESS":   api.Success,
		"unstable":  api.Unstable,
		" Failure ": api.Failure,
		"not-built": api.NotBuilt,
		"NOT_BUILT": api.NotBuilt,
		"aborted":   api.Aborted,
	}
	for in, expected := range tests {
		res, err := api.ParseResult(in)
		assert.NoError(t, err, in)
		assert.Equal(t, expected, res, in)
	}

	_, err := api.ParseResult("EXPLODED")
	assert.ErrorIs(t, err, api.ErrInvalidResult)
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(map[string]api.Result{"r": api.Unstable})
	require.NoError(t, err)
	assert.JSONEq(t, `{"r":"UNSTABLE"}`, string(data))

	var res api.Result
	require.NoError(t, json.Unmarshal([]byte(`"aborted"`), &res))
	assert.Equal(t, api.Aborted, res)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &res))
	_, err = json.Marshal(api.Result(42))
	assert.Error(t, err)
}
