// Package referenceassets provides embedded reference data for
// standalone binary behavior.
//
// The data is embedded at compile time so coverage analysis works in
// installed binaries without requiring data files on disk.
package referenceassets

import _ "embed"

// StatePopulations is the embedded state population table
// (2020 census figures), state code to resident count.
//
//go:embed state_populations.yaml
var StatePopulations []byte
