// SPDX-License-Identifier: Apache-2.0

// Package registry holds the static, declarative TableTypeSpec for each
// supported partitioned family (PH, TH, ED, RT): dispatch mechanism, date
// column, stable key, and column list, looked up by TableType rather than
// read from the live database.
package registry

import (
	"fmt"

	"github.com/partmove/partmove/pkg/model"
)

var specs = map[model.TableType]model.TableTypeSpec{
	model.TableTypePH: {
		Code: model.TableTypePH,
		Columns: []model.ColumnDef{
			{Name: "path_id", PGType: "int8"},
			{Name: "issued_date", PGType: "int8"},
			{Name: "changed_value", PGType: "varchar(100)", Nullable: true},
			{Name: "connection_status", PGType: "bool", Nullable: true},
		},
		DateType:  model.DateColumnEpochMillis,
		Dispatch:  model.DispatchTrigger,
		StableKey: []string{"path_id", "issued_date"},
	},
	model.TableTypeTH: {
		Code: model.TableTypeTH,
		Columns: []model.ColumnDef{
			{Name: "path_id", PGType: "int8"},
			{Name: "issued_date", PGType: "int8"},
			{Name: "changed_value", PGType: "varchar(100)", Nullable: true},
			{Name: "connection_status", PGType: "bool", Nullable: true},
		},
		DateType:  model.DateColumnEpochMillis,
		Dispatch:  model.DispatchRule,
		StableKey: []string{"path_id", "issued_date"},
	},
	model.TableTypeED: {
		Code: model.TableTypeED,
		Columns: []model.ColumnDef{
			{Name: "sensor_id", PGType: "int8"},
			{Name: "issued_date", PGType: "timestamp"},
			{Name: "station_id", PGType: "varchar(20)", Nullable: true},
			{Name: "value", PGType: "float8", Nullable: true},
			{Name: "co2", PGType: "float8", Nullable: true},
			{Name: "cost", PGType: "float8", Nullable: true},
		},
		DateType:  model.DateColumnTimestamp,
		Dispatch:  model.DispatchRule,
		StableKey: []string{"sensor_id", "issued_date", "station_id"},
	},
	model.TableTypeRT: {
		Code: model.TableTypeRT,
		Columns: []model.ColumnDef{
			{Name: "device_id", PGType: "int8"},
			{Name: "issued_date", PGType: "int8"},
			{Name: "metric_code", PGType: "varchar(32)", Nullable: true},
			{Name: "metric_value", PGType: "float8", Nullable: true},
			{Name: "quality_flag", PGType: "int4", Nullable: true},
			{Name: "battery_level", PGType: "float8", Nullable: true},
			{Name: "signal_strength", PGType: "float8", Nullable: true},
			{Name: "firmware_version", PGType: "varchar(16)", Nullable: true},
			{Name: "location_code", PGType: "varchar(20)", Nullable: true},
			{Name: "recorded_at", PGType: "int8", Nullable: true},
		},
		DateType:  model.DateColumnEpochMillis,
		Dispatch:  model.DispatchRule,
		StableKey: []string{"device_id", "issued_date"},
	},
}

// Lookup returns the TableTypeSpec for a given code.
func Lookup(t model.TableType) (model.TableTypeSpec, error) {
	spec, ok := specs[t]
	if !ok {
		return model.TableTypeSpec{}, fmt.Errorf("registry: unknown table type %q", t)
	}
	return spec, nil
}

// All returns every registered table type, in a stable order.
func All() []model.TableType {
	return []model.TableType{model.TableTypePH, model.TableTypeTH, model.TableTypeED, model.TableTypeRT}
}

// ValidateSubset checks that every code in types is registered, returning
// an error naming the first unknown code found.
func ValidateSubset(types []model.TableType) error {
	for _, t := range types {
		if _, err := Lookup(t); err != nil {
			return err
		}
	}
	return nil
}

// ParentTableFor returns the fixed parent table name a table type's
// children inherit from.
func ParentTableFor(t model.TableType) string {
	switch t {
	case model.TableTypePH, model.TableTypeTH:
		return "point_history"
	case model.TableTypeED:
		return "environment_data"
	case model.TableTypeRT:
		return "realtime_telemetry"
	default:
		return ""
	}
}

// ColumnNames returns the ordered column names of a spec.
func ColumnNames(spec model.TableTypeSpec) []string {
	names := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		names[i] = c.Name
	}
	return names
}
