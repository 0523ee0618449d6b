package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// AccessLevel is the granularity of data a job may be computed on. Levels are totally ordered
// and a higher level grants everything a lower one does.
type AccessLevel int

const (
	AccessLevelNone AccessLevel = iota
	AccessLevelCacheOnly
	AccessLevelLocationLevel2
	AccessLevelLocationLevel1
	AccessLevelAntenna
)

var accessLevelNames = map[AccessLevel]string{
	AccessLevelNone:           "none",
	AccessLevelCacheOnly:      "cache_only",
	AccessLevelLocationLevel2: "location_level_2",
	AccessLevelLocationLevel1: "location_level_1",
	AccessLevelAntenna:        "antenna",
}

// AccessLevels returns all access levels from the narrowest to the broadest.
func AccessLevels() []AccessLevel {
	return []AccessLevel{
		AccessLevelNone,
		AccessLevelCacheOnly,
		AccessLevelLocationLevel2,
		AccessLevelLocationLevel1,
		AccessLevelAntenna,
	}
}

func ParseAccessLevel(s string) (AccessLevel, error) {
	for level, name := range accessLevelNames {
		if name == s {
			return level, nil
		}
	}
	return AccessLevelNone, errors.Errorf("unknown access level %q", s)
}

func (l AccessLevel) String() string {
	if name, ok := accessLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("AccessLevel(%d)", int(l))
}

// Allows reports whether a grant of level l is sufficient for a request at requested.
func (l AccessLevel) Allows(requested AccessLevel) bool {
	return l >= requested
}

func (l AccessLevel) MarshalText() ([]byte, error) {
	name, ok := accessLevelNames[l]
	if !ok {
		return nil, errors.Errorf("invalid access level %d", int(l))
	}
	return []byte(name), nil
}

func (l *AccessLevel) UnmarshalText(text []byte) error {
	level, err := ParseAccessLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}
