package flowwork

import "github.com/xraph/flowwork/id"

// ID is the primary identifier type for all flowwork entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
