package schema

import "sort"

// TableOrder returns table names ordered so that any table appears after the
// tables its foreign keys reference. Self-references are ignored. Tables
// participating in reference cycles are additionally listed in cyclic;
// their position in the order is best-effort.
//
// Traversal starts from sorted names, so the order is deterministic.
func TableOrder(s *Schema) (order []string, cyclic []string) {
	deps := make(map[string][]string, len(s.Tables))
	for name, table := range s.Tables {
		var refs []string
		for _, fk := range table.ForeignKeys {
			if fk.RefTable == name {
				continue
			}
			if _, ok := s.Tables[fk.RefTable]; ok {
				refs = append(refs, fk.RefTable)
			}
		}
		sort.Strings(refs)
		deps[name] = refs
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(deps))
	cycleSet := make(map[string]bool)

	var visit func(name string)
	visit = func(name string) {
		switch state[name] {
		case done:
			return
		case inStack:
			cycleSet[name] = true
			return
		}
		state[name] = inStack
		for _, dep := range deps[name] {
			visit(dep)
		}
		state[name] = done
		order = append(order, name)
	}

	for _, name := range s.TableNames() {
		visit(name)
	}

	for _, name := range s.TableNames() {
		if cycleSet[name] {
			cyclic = append(cyclic, name)
		}
	}
	return order, cyclic
}
