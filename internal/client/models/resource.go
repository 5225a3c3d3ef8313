// Package models defines the client-side data model: locally persisted
// chat messages, typed rows for the cached resources, realtime change
// events, and ingress coercion from loosely typed backend rows.
package models

import "fmt"

// Resource is the logical name of a backend table.
type Resource string

const (
	ResourceMessages   Resource = "chat_messages"
	ResourceNews       Resource = "news"
	ResourceQuotes     Resource = "quotes"
	ResourceStatistics Resource = "statistics"
)

// Resources lists every resource known to the client.
var Resources = []Resource{ResourceMessages, ResourceNews, ResourceQuotes, ResourceStatistics}

// ParseResource validates a resource name.
func ParseResource(s string) (Resource, error) {
	for _, r := range Resources {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resource %q", s)
}

// WatermarkKey is the storage key of the pull watermark for r.
func (r Resource) WatermarkKey() string {
	return "lastPulled:" + string(r)
}
