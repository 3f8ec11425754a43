// Package api exposes the escrow coordination layer over REST: wallet session,
// agreement lifecycle, dashboards, ratings and fund checks. Error codes map to
// HTTP status codes in one table.
package api
