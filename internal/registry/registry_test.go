// SPDX-License-Identifier: Apache-2.0

package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partmove/partmove/internal/registry"
	"github.com/partmove/partmove/pkg/model"
)

func TestLookupKnownTypes(t *testing.T) {
	for _, tt := range registry.All() {
		spec, err := registry.Lookup(tt)
		require.NoError(t, err)
		assert.Equal(t, tt, spec.Code)
		assert.NotEmpty(t, spec.Columns)
		assert.NotEmpty(t, spec.StableKey)
	}
}

func TestLookupUnknownType(t *testing.T) {
	_, err := registry.Lookup(model.TableType("XX"))
	require.Error(t, err)
}

func TestDispatchMechanismPerFamily(t *testing.T) {
	ph, _ := registry.Lookup(model.TableTypePH)
	assert.Equal(t, model.DispatchTrigger, ph.Dispatch)

	th, _ := registry.Lookup(model.TableTypeTH)
	assert.Equal(t, model.DispatchRule, th.Dispatch)

	ed, _ := registry.Lookup(model.TableTypeED)
	assert.Equal(t, model.DispatchRule, ed.Dispatch)
	assert.Equal(t, model.DateColumnTimestamp, ed.DateType)

	rt, _ := registry.Lookup(model.TableTypeRT)
	assert.Equal(t, model.DispatchRule, rt.Dispatch)
	assert.Len(t, rt.Columns, 10)
}

func TestValidateSubset(t *testing.T) {
	require.NoError(t, registry.ValidateSubset([]model.TableType{model.TableTypePH, model.TableTypeED}))
	require.Error(t, registry.ValidateSubset([]model.TableType{model.TableTypePH, "ZZ"}))
}
