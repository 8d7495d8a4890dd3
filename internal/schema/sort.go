package schema

import "fmt"

// SortedTables returns the tables in dependency order: a table appears
// after every table it references, so deleting and re-inserting rows in
// this order never trips foreign key enforcement. Tables with no
// dependency relation keep their declaration order.
func (s *Schema) SortedTables() ([]Table, error) {
	index := make(map[string]int, len(s.Tables))
	for i, t := range s.Tables {
		index[t.Name] = i
	}

	// indegree counts unresolved parents; children lists dependents.
	indegree := make([]int, len(s.Tables))
	children := make([][]int, len(s.Tables))
	for i, t := range s.Tables {
		for _, col := range t.Columns {
			ref := col.References
			if ref.Table == "" || ref.Table == t.Name {
				continue
			}
			parent, ok := index[ref.Table]
			if !ok {
				return nil, fmt.Errorf("table %s references unknown table %s", t.Name, ref.Table)
			}
			indegree[i]++
			children[parent] = append(children[parent], i)
		}
	}

	// Kahn's algorithm with a declaration-ordered frontier, so the result
	// is deterministic for a given schema.
	var queue []int
	for i := range s.Tables {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	sorted := make([]Table, 0, len(s.Tables))
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		sorted = append(sorted, s.Tables[next])
		for _, child := range children[next] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(sorted) != len(s.Tables) {
		var stuck []string
		for i, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, s.Tables[i].Name)
			}
		}
		return nil, fmt.Errorf("circular foreign key references between tables %v", stuck)
	}
	return sorted, nil
}
