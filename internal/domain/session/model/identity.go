// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "hash/fnv"

// namedColor pairs a display name with its hex value.
type namedColor struct {
	Name string
	Hex  string
}

// playerColors and playerAnimals span the identity space. Both lists are
// append-only: reordering or removing entries changes every derived identity.
var playerColors = []namedColor{
	{"Crimson", "#DC143C"},
	{"Coral", "#FF7F50"},
	{"Amber", "#FFBF00"},
	{"Gold", "#FFD700"},
	{"Lime", "#32CD32"},
	{"Emerald", "#50C878"},
	{"Teal", "#008080"},
	{"Cyan", "#00CED1"},
	{"Azure", "#007FFF"},
	{"Cobalt", "#0047AB"},
	{"Indigo", "#4B0082"},
	{"Violet", "#8F00FF"},
	{"Magenta", "#FF00FF"},
	{"Rose", "#FF007F"},
	{"Salmon", "#FA8072"},
	{"Ochre", "#CC7722"},
	{"Olive", "#808000"},
	{"Slate", "#708090"},
}

var playerAnimals = []string{
	"Lynx", "Otter", "Heron", "Badger", "Fox", "Wolf", "Bear", "Hare",
	"Raven", "Owl", "Falcon", "Kestrel", "Swift", "Swallow", "Sparrow",
	"Finch", "Wren", "Robin", "Newt", "Gecko", "Iguana", "Turtle",
	"Dolphin", "Orca", "Seal", "Walrus", "Narwhal", "Beluga", "Marlin",
	"Pike", "Perch", "Carp", "Trout", "Eel", "Octopus", "Squid", "Crab",
	"Lobster", "Shrimp", "Manta", "Moose", "Elk", "Deer", "Caribou",
	"Bison", "Yak", "Ibex", "Marmot", "Stoat", "Weasel", "Marten", "Mink",
	"Lemur", "Gibbon", "Macaque", "Mandrill", "Capuchin", "Tamarin",
	"Ocelot", "Serval", "Caracal", "Cheetah", "Panther", "Jaguar", "Puma",
	"Tiger", "Leopard", "Gazelle", "Impala", "Oryx", "Zebra", "Okapi",
	"Tapir",
}

// NumPlayerColors and NumPlayerAnimals describe the identity space
// (18 x 73 = 1314 combinations).
var (
	NumPlayerColors  = len(playerColors)
	NumPlayerAnimals = len(playerAnimals)
)

// NewPlayerInfo derives a deterministic identity for the given player id.
// The same id always maps to the same color/animal pair, on any server.
func NewPlayerInfo(playerID string, nowMs int64) PlayerInfo {
	h := fnv.New64a()
	_, _ = h.Write([]byte(playerID))
	combined := h.Sum64() % uint64(NumPlayerColors*NumPlayerAnimals)

	colorIdx := int(combined % uint64(NumPlayerColors))
	animalIdx := int(combined / uint64(NumPlayerColors))

	color := playerColors[colorIdx]
	animal := playerAnimals[animalIdx]

	return PlayerInfo{
		ID:            playerID,
		ConnectedAt:   nowMs,
		LastMessageAt: nowMs,
		ColorIndex:    colorIdx,
		Animal:        animal,
		Color:         color.Hex,
		Name:          color.Name + " " + animal,
	}
}
