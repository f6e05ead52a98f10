// Package catalog enumerates and classifies the databases visible on a
// CouchDB endpoint.
//
// A single-node 1.x endpoint lists databases under two naming styles: flat
// local names, and shard-path names of the form
// `shards/<range>/<name>.<epoch>` left behind by the clustered layout. The
// catalog partitions the two and recovers logical names from shard paths.
package catalog

import (
	"context"
	"slices"
	"strings"

	"github.com/couchup/couchup/couch"
)

// SystemPrefix is the reserved prefix of system databases.
const SystemPrefix = "_"

const shardMarker = "shards/"

// DatabaseRecord is one classified database name.
type DatabaseRecord struct {
	Name     string
	IsSystem bool
}

// Listing is the result of an enumeration: local-style names and the logical
// names recovered from shard-path entries, both sorted ascending.
type Listing struct {
	Local     []DatabaseRecord
	Clustered []DatabaseRecord
}

// LogicalName decomposes a shard-path database name. It returns the logical
// database name and true, or ("", false) when name is not shard-style. Any
// trailing epoch-timestamp suffix is stripped from the logical name.
func LogicalName(name string) (string, bool) {
	if !strings.HasPrefix(name, shardMarker) {
		return "", false
	}

	parts := strings.SplitN(name, "/", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", false
	}

	logical := parts[2]
	if i := strings.LastIndexByte(logical, '.'); i > 0 && isEpoch(logical[i+1:]) {
		logical = logical[:i]
	}

	return logical, true
}

func isEpoch(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// Enumerate lists the databases of an endpoint and classifies them. With
// includeSystem false, names starting with [SystemPrefix] are dropped.
// Clustered logical names are deduplicated, since many shard ranges map to
// the same logical database.
func Enumerate(ctx context.Context, client *couch.Client, includeSystem bool) (*Listing, error) {
	names, err := client.AllDBs(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return Classify(names, includeSystem), nil
}

// Classify partitions a flat name list into a [Listing].
func Classify(names []string, includeSystem bool) *Listing {
	listing := &Listing{}
	seen := make(map[string]struct{})

	for _, name := range names {
		logical, clustered := LogicalName(name)
		if clustered {
			name = logical
		}

		isSystem := strings.HasPrefix(name, SystemPrefix)
		if isSystem && !includeSystem {
			continue
		}

		rec := DatabaseRecord{Name: name, IsSystem: isSystem}

		if clustered {
			if _, ok := seen[name]; ok {
				continue
			}

			seen[name] = struct{}{}
			listing.Clustered = append(listing.Clustered, rec)
		} else {
			listing.Local = append(listing.Local, rec)
		}
	}

	byName := func(a, b DatabaseRecord) int { return strings.Compare(a.Name, b.Name) }
	slices.SortFunc(listing.Local, byName)
	slices.SortFunc(listing.Clustered, byName)

	return listing
}

// Names returns the names of the records.
func Names(records []DatabaseRecord) []string {
	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Name
	}

	return names
}
