package bracket

import (
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestKind_JSON(t *testing.T) {
	for _, k := range []Kind{KindNormal, KindWinnerPlaceholder} {
		in := Competitor{Name: "x", Kind: k}
		b, err := json.Marshal(in)
		require.NoError(t, err)

		var out Competitor
		require.NoError(t, json.Unmarshal(b, &out))
		assert.Equal(t, in, out)
	}

	var c Competitor
	err := json.Unmarshal([]byte(`{"name":"x","club":"","kind":"bye"}`), &c)
	assert.ErrorContains(t, err, `unknown competitor kind "bye"`)

	err = json.Unmarshal([]byte(`{"name":"x","club":"","kind":""}`), &c)
	assert.Error(t, err)
}
