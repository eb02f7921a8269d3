package redis

// Redis key naming conventions for flowwork data.
// All keys are prefixed with "flowwork:" to avoid collisions.

const keyPrefix = "flowwork:"

// runKey returns the key for a run document: flowwork:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runsByCreatedKey is the Sorted Set of run IDs scored by creation time.
const runsByCreatedKey = keyPrefix + "runs"

// dueKey is the Sorted Set of non-terminal run IDs scored by NextTickAt.
const dueKey = keyPrefix + "due"
