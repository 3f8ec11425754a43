// Package redis stores rating aggregates in Redis so several daemon instances
// share one cache. Values are JSON encoded under a common key prefix.
package redis
