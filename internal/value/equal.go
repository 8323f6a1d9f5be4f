package value

// Equal reports whether a field moved from previous to current without a
// visible change. It never fails: shapes it cannot reason about compare equal.
func Equal(previous, current interface{}) bool {
	return Of(previous).Equal(Of(current))
}

// Equal compares two field values.
//
// A blank value only equals another blank value, so 0, "" and a missing field
// are interchangeable. Values of different kinds differ, except that all lists
// share one kind. Lists of different length differ; beyond that primitive lists
// compare as sets, object lists position by position, and mixed lists equal any
// list. Objects and scalars compare structurally.
func (v Value) Equal(other Value) bool {
	vBlank, otherBlank := v.IsBlank(), other.IsBlank()
	if vBlank != otherBlank {
		return false
	}
	if vBlank {
		return true
	}
	if v.IsList() && other.IsList() {
		return v.listEqual(other)
	}
	if v.Kind != other.Kind {
		return false
	}
	if v.Kind == Unsupported {
		return true
	}
	return deepEqual(v, other)
}

func (v Value) listEqual(other Value) bool {
	if len(v.List) != len(other.List) {
		return false
	}
	switch {
	case v.Kind == MixedList || other.Kind == MixedList:
		return true
	case v.Kind == PrimitiveList && other.Kind == PrimitiveList:
		return containsAll(v.List, other.List) && containsAll(other.List, v.List)
	}
	for i := range v.List {
		if !deepEqual(v.List[i], other.List[i]) {
			return false
		}
	}
	return true
}

// containsAll reports whether every element of a appears somewhere in b
func containsAll(a, b []Value) bool {
	for _, x := range a {
		found := false
		for _, y := range b {
			if deepEqual(x, y) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// deepEqual is strict structural equality: no blank folding and lists are ordered
func deepEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case Null, Unsupported:
		return true
	case Bool:
		return a.Bool == b.Bool
	case Number:
		if a.Exact != "" && b.Exact != "" {
			return a.Exact == b.Exact
		}
		return a.Number == b.Number
	case String:
		return a.String == b.String
	case PrimitiveList, ObjectList, MixedList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !deepEqual(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(a.Object) != len(b.Object) {
			return false
		}
		for key, av := range a.Object {
			bv, ok := b.Object[key]
			if !ok || !deepEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}
