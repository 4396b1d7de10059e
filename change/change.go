// Package change computes the delta between the files on disk and the recorded
// index state.
package change

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lexandro/tokenindex-mcp/indexerr"
	"github.com/lexandro/tokenindex-mcp/scan"
)

// HashPolicy decides when unchanged-looking files are re-hashed.
type HashPolicy int

const (
	// HashNever trusts size and modification time.
	HashNever HashPolicy = iota
	// HashRacy re-hashes files whose modification time is too close to the time
	// they were indexed to rule out a same-second edit.
	HashRacy
	// HashAlways re-hashes every file.
	HashAlways
)

var policyNames = map[HashPolicy]string{
	HashNever:  "never",
	HashRacy:   "racy",
	HashAlways: "always",
}

func (p HashPolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("HashPolicy(%d)", int(p))
}

// ParseHashPolicy parses never, racy or always.
func ParseHashPolicy(name string) (HashPolicy, error) {
	for p, n := range policyNames {
		if strings.EqualFold(name, n) {
			return p, nil
		}
	}
	return HashNever, fmt.Errorf("unknown hash policy %q (want never, racy or always)", name)
}

// Entry is the recorded state of one indexed path.
type Entry struct {
	Path      string
	Size      int64
	ModTime   time.Time
	Hash      string
	IndexedAt time.Time
}

// Snapshot is the current state of the file tree.
type Snapshot struct {
	Files []scan.FileRecord
	// Unknown lists paths whose subtree could not be enumerated.
	Unknown []string
}

// Delta is the work of one pass. Added, Updated and Removed are disjoint and sorted.
type Delta struct {
	Added   []scan.FileRecord
	Updated []scan.FileRecord
	Removed []string
	// Unchanged counts files skipped as unchanged.
	Unchanged int
	// Carried lists recorded paths kept as-is because their directory could not be read.
	Carried []string
	// Verified lists racy entries whose content hash proved them unchanged. Their
	// indexing time should be refreshed so they stop being hashed once settled.
	Verified []string
	// Errors are per-file problems met while hashing; those files are carried.
	Errors []error
}

// Empty reports whether the delta requires no index changes.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// Size returns the number of paths the delta touches.
func (d *Delta) Size() int {
	return len(d.Added) + len(d.Updated) + len(d.Removed)
}

// Options configures a Detector.
type Options struct {
	Policy HashPolicy
	// RacyWindow is the timestamp granularity assumed by HashRacy.
	RacyWindow time.Duration
	// Hasher hashes a file; HashFile when nil.
	Hasher func(path string) (string, error)
}

// Detector computes deltas.
type Detector struct {
	policy     HashPolicy
	racyWindow time.Duration
	hasher     func(path string) (string, error)
}

// NewDetector creates a detector.
func NewDetector(options Options) *Detector {
	d := &Detector{policy: options.Policy, racyWindow: options.RacyWindow, hasher: options.Hasher}
	if d.racyWindow <= 0 {
		d.racyWindow = 2 * time.Second
	}
	if d.hasher == nil {
		d.hasher = HashFile
	}
	return d
}

// Policy returns the configured hash policy.
func (d *Detector) Policy() HashPolicy {
	return d.policy
}

// Compute compares the snapshot with the recorded entries in one pass keyed by path.
// With full set, every current file is added or updated regardless of metadata.
func (d *Detector) Compute(snapshot Snapshot, prior map[string]Entry, full bool) *Delta {
	delta := &Delta{}
	current := make(map[string]struct{}, len(snapshot.Files))

	for _, file := range snapshot.Files {
		current[file.Path] = struct{}{}
		entry, known := prior[file.Path]
		switch {
		case !known:
			delta.Added = append(delta.Added, file)
		case full:
			delta.Updated = append(delta.Updated, file)
		default:
			changed, hashed, err := d.changed(file, entry)
			if err != nil {
				delta.Errors = append(delta.Errors, err)
				delta.Carried = append(delta.Carried, file.Path)
				continue
			}
			switch {
			case changed:
				delta.Updated = append(delta.Updated, file)
			case hashed && d.policy == HashRacy:
				delta.Verified = append(delta.Verified, file.Path)
				delta.Unchanged++
			default:
				delta.Unchanged++
			}
		}
	}

	unknown := newPrefixSet(snapshot.Unknown)
	for path := range prior {
		if _, ok := current[path]; ok {
			continue
		}
		if unknown.covers(path) {
			delta.Carried = append(delta.Carried, path)
			continue
		}
		delta.Removed = append(delta.Removed, path)
	}

	sortRecords(delta.Added)
	sortRecords(delta.Updated)
	sort.Strings(delta.Removed)
	sort.Strings(delta.Carried)
	sort.Strings(delta.Verified)
	return delta
}

// changed compares a file with its entry. hashed reports that the content hash
// decided the outcome.
func (d *Detector) changed(file scan.FileRecord, entry Entry) (changed, hashed bool, err error) {
	if file.Size != entry.Size || !file.ModTime.Equal(entry.ModTime) {
		return true, false, nil
	}
	if !d.needsHash(entry) {
		return false, false, nil
	}
	if entry.Hash == "" {
		return true, false, nil
	}
	hash, err := d.hasher(file.Path)
	if err != nil {
		return false, false, &indexerr.IOAccessError{Path: file.Path, Op: "hash", Err: err}
	}
	return hash != entry.Hash, true, nil
}

func (d *Detector) needsHash(entry Entry) bool {
	switch d.policy {
	case HashAlways:
		return true
	case HashRacy:
		return entry.IndexedAt.IsZero() || !entry.ModTime.Before(entry.IndexedAt.Add(-d.racyWindow))
	}
	return false
}

func sortRecords(records []scan.FileRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
}

// prefixSet answers whether a path equals or lies below one of a set of paths.
type prefixSet map[string]struct{}

func newPrefixSet(paths []string) prefixSet {
	set := make(prefixSet, len(paths))
	for _, p := range paths {
		set[filepath.Clean(p)] = struct{}{}
	}
	return set
}

func (s prefixSet) covers(path string) bool {
	if len(s) == 0 {
		return false
	}
	for p := filepath.Clean(path); ; {
		if _, ok := s[p]; ok {
			return true
		}
		parent := filepath.Dir(p)
		if parent == p {
			return false
		}
		p = parent
	}
}
