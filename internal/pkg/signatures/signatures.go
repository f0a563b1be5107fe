// Package signatures scans raw container JavaScript for well-known
// third-party identifier patterns. The scan is independent of the structural
// decode on purpose: vendor IDs are often recoverable even when the
// container format itself is unrecognized.
package signatures

import (
	"fmt"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"

	_ "embed"
)

//go:embed database/vendors.yml
var vendorDatabase []byte

// PatternEntry is one row of the embedded signature database.
type PatternEntry struct {
	Vendor string `yaml:"vendor"`
	IDType string `yaml:"id_type"`
	Regex  string `yaml:"regex"`
	Group  int    `yaml:"group"`
	Extra  string `yaml:"extra"`
}

// Hit is one distinct third-party identifier found in the source.
type Hit struct {
	Vendor  string
	IDType  string
	IDValue string
	Extra   string
}

// Compiled regex cache
type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Double-check pattern
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

// Global scanner instance
var (
	scanner *vendorScanner
	once    sync.Once
)

type vendorScanner struct {
	patterns []PatternEntry
	cache    *regexCache
}

func getScanner() *vendorScanner {
	once.Do(func() {
		scanner = &vendorScanner{cache: newRegexCache()}
		if err := yaml.Unmarshal(vendorDatabase, &scanner.patterns); err != nil {
			fmt.Printf("Error parsing vendors.yml: %v\n", err)
		}
	})
	return scanner
}

// Scan applies every signature pattern across the full source text and
// returns one hit per distinct identifier, deduplicated by the
// (vendor, id type, value) triple. Order follows the database and first
// occurrence in the source.
func Scan(source string) []Hit {
	s := getScanner()

	var hits []Hit
	seen := map[string]bool{}

	for _, entry := range s.patterns {
		regex, err := s.cache.get(entry.Regex)
		if err != nil {
			continue
		}
		for _, match := range regex.FindAllStringSubmatch(source, -1) {
			value := match[0]
			if entry.Group > 0 && entry.Group < len(match) {
				value = match[entry.Group]
			}
			if value == "" {
				continue
			}
			key := entry.Vendor + "\x00" + entry.IDType + "\x00" + value
			if seen[key] {
				continue
			}
			seen[key] = true
			hits = append(hits, Hit{
				Vendor:  entry.Vendor,
				IDType:  entry.IDType,
				IDValue: value,
				Extra:   entry.Extra,
			})
		}
	}

	return hits
}

// Patterns exposes the loaded database, mainly for diagnostics.
func Patterns() []PatternEntry {
	return getScanner().patterns
}
