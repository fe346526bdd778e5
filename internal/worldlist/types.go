package worldlist

import (
	"fmt"
	"strings"
)

// WorldType is a world property. Type k is set when bit k of the record
// mask is set.
type WorldType uint8

const (
	Members WorldType = iota
	PVP
	Bounty
	PVPArena
	SkillTotal
	QuestSpeedrunning
	HighRisk
	LastManStanding
	NoSaveMode
	Tournament
	FreshStartWorld
	Deadman
	BetaWorld
	Seasonal

	numWorldTypes
)

var worldTypeNames = [numWorldTypes]string{
	"MEMBERS",
	"PVP",
	"BOUNTY",
	"PVP_ARENA",
	"SKILL_TOTAL",
	"QUEST_SPEEDRUNNING",
	"HIGH_RISK",
	"LAST_MAN_STANDING",
	"NOSAVE_MODE",
	"TOURNAMENT",
	"FRESH_START_WORLD",
	"DEADMAN",
	"BETA_WORLD",
	"SEASONAL",
}

func (t WorldType) String() string {
	if t < numWorldTypes {
		return worldTypeNames[t]
	}
	return fmt.Sprintf("WorldType(%d)", uint8(t))
}

func (t WorldType) MarshalText() ([]byte, error) {
	if t >= numWorldTypes {
		return nil, fmt.Errorf("worldlist: undefined world type %d", uint8(t))
	}
	return []byte(worldTypeNames[t]), nil
}

func (t *WorldType) UnmarshalText(b []byte) error {
	v, err := ParseWorldType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseWorldType looks up a type by name, ignoring case.
func ParseWorldType(name string) (WorldType, error) {
	for i, n := range worldTypeNames {
		if strings.EqualFold(n, name) {
			return WorldType(i), nil
		}
	}
	return 0, fmt.Errorf("worldlist: unknown world type %q", name)
}

// FlagsOf returns the defined types whose bit is set in mask, in bit
// order. Bits beyond the defined types are ignored, so a nonzero mask can
// yield an empty set.
func FlagsOf(mask uint32) []WorldType {
	out := []WorldType{}
	for t := WorldType(0); t < numWorldTypes; t++ {
		if mask&(1<<t) != 0 {
			out = append(out, t)
		}
	}
	return out
}

// MaskOf sets the bit of each type.
func MaskOf(types ...WorldType) uint32 {
	var m uint32
	for _, t := range types {
		m |= 1 << t
	}
	return m
}
