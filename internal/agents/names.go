package agents

import "hash/fnv"

// stationNames is the pool of Japanese station-inspired agent names.
// The list is fixed to maintain determinism for workflow replays.
var stationNames = []string{
	// Classics with proper romanization
	"Ōme", "Gora", "Maji", "Ebisu", "Ōsaki",
	"Otaru", "Namba", "Tenma", "Mejiro", "Kōenji",
	"Gotanda", "Ryōgoku", "Yūtenji", "Nippori", "Asagaya",
	"Mojikō", "Kottoi", "Taishō", "Yumoto", "Odawara",
	"Enoshima", "Ogikubo", "Ichigaya", "Komazawa", "Todoroki",
	// Quirky names
	"Obama", "Usa", "Gero", "Ōboke", "Koboke",
	"Naruto", "Zushi", "Fussa", "Oppama", "Pippu",
	"Mashike", "Zōshiki",
	// Remote & scenic gems
	"Nikkō", "Hakone", "Beppu", "Atami", "Wakkanai",
	"Koboro", "Shimonada", "Tadami", "Tsuwano", "Okutama",
	"Nagatoro", "Kazamatsuri", "Chōshi", "Kururi", "Biei",
	"Minobu", "Shimonita",
	// Saitama & West Tokyo deep cuts
	"Tama", "Musashi", "Urawa", "Kawagoe", "Hannō",
	"Chichibu", "Takao", "Mitaka", "Kichijōji",
	// Bonus obscure finds
	"Karasuyama", "Ashikaga", "Sasago", "Shimokita", "Kuragano",
}

// GetAgentName returns a deterministic agent name for a given workflow and index.
// This is safe for workflow replays: the same workflowID and index
// will always produce the same name.
func GetAgentName(workflowID string, index int) string {
	if len(stationNames) == 0 {
		return ""
	}

	hash := fnv32a(workflowID)
	nameIndex := (int(hash) + index) % len(stationNames)
	return stationNames[nameIndex]
}

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
