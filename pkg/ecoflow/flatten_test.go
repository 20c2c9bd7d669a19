package ecoflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenNested(t *testing.T) {

	assert := assert.New(t)

	flat := Flatten(map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": 1.0,
			},
		},
	})

	assert.Equal(map[string]any{"a.b.c": 1.0}, flat)
}

func TestFlattenMixedLevels(t *testing.T) {

	assert := assert.New(t)

	flat := Flatten(map[string]any{
		"bms_emsStatus": map[string]any{
			"chgState":      1.0,
			"chgRemainTime": 143.0,
		},
		"pd": map[string]any{
			"soc": 85.0,
		},
		"timestamp": 1700000000.0,
	})

	assert.Equal(1.0, flat["bms_emsStatus.chgState"])
	assert.Equal(143.0, flat["bms_emsStatus.chgRemainTime"])
	assert.Equal(85.0, flat["pd.soc"])
	assert.Equal(1700000000.0, flat["timestamp"])
	assert.Len(flat, 4)
}

func TestFlattenEmpty(t *testing.T) {

	assert := assert.New(t)

	assert.Empty(Flatten(map[string]any{}))
}

func TestFlattenScalarRoot(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(map[string]any{"": 42.0}, Flatten(42.0))
}

func TestFlattenLeafValuesUntouched(t *testing.T) {

	assert := assert.New(t)

	flat := Flatten(map[string]any{
		"inv": map[string]any{
			"acInVol":      "253054",
			"cfgAcEnabled": true,
		},
	})

	assert.Equal("253054", flat["inv.acInVol"])
	assert.Equal(true, flat["inv.cfgAcEnabled"])
}
