package worldlist

// World is the structured form of a Record served as JSON.
type World struct {
	ID       int         `json:"id"`
	Types    []WorldType `json:"types"`
	Address  string      `json:"address"`
	Activity string      `json:"activity"`
	Location int         `json:"location"`
	Players  int         `json:"players"`
}

// Result wraps the projected list the way the directory service
// publishes it.
type Result struct {
	Worlds []World `json:"worlds"`
}

// Project converts records to their structured form, preserving order.
func Project(records []Record) Result {
	res := Result{Worlds: make([]World, 0, len(records))}
	for _, r := range records {
		res.Worlds = append(res.Worlds, World{
			ID:       int(r.ID),
			Types:    FlagsOf(r.Mask),
			Address:  r.Host,
			Activity: r.Activity,
			Location: int(r.Location),
			Players:  int(r.Population),
		})
	}
	return res
}
