package plugins

import "strconv"

// Entry is one plugin as seen by the overlay. Specifier is set only for
// available plugins and is the bare module name the import map resolves.
type Entry struct {
	Name      string
	Specifier string
	URL       string
	Available bool
	Error     string
}

// Manifest is the ordered plugin list the config script and the import map
// are rendered from.
type Manifest struct {
	Entries []Entry
}

func BuildManifest(list []Plugin, base string) Manifest {
	m := Manifest{Entries: make([]Entry, 0, len(list))}
	index := 0
	for _, p := range list {
		e := Entry{Name: p.Name, Available: p.Available, Error: p.Error}
		if p.Available {
			e.Specifier = "plugin-entry-" + strconv.Itoa(index)
			e.URL = p.ModuleURL(base)
			index++
		} else {
			e.URL = p.Source()
		}
		m.Entries = append(m.Entries, e)
	}
	return m
}

func (m Manifest) Available() []Entry {
	out := make([]Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if e.Available {
			out = append(out, e)
		}
	}
	return out
}

func (m Manifest) Unavailable() []Entry {
	out := make([]Entry, 0)
	for _, e := range m.Entries {
		if !e.Available {
			out = append(out, e)
		}
	}
	return out
}

// ImportMap maps each available plugin specifier to its module URL.
func (m Manifest) ImportMap() map[string]string {
	out := make(map[string]string, len(m.Entries))
	for _, e := range m.Available() {
		out[e.Specifier] = e.URL
	}
	return out
}
