package optimizer

// RemoveUnusedVariables erases [LOAD_CONST c][STORE_NAME n] declarations of
// names that nothing loads. A single load anywhere in the stream keeps the
// name alive, as does any mention of it by a nested unit.
func RemoveUnusedVariables(m *MutableUnit) (int, error) {
	decls, err := findConstDeclarations(m)
	if err != nil || len(decls) == 0 {
		return 0, err
	}
	refs, err := referencedNames(m)
	if err != nil {
		return 0, err
	}

	edits := 0
	for _, d := range sortedByOffset(decls) {
		if refs[d.name] || escapesToNested(m, d.name, nil) {
			continue
		}
		m.nopFill(d.offset, d.offset+declWidth)
		logger().Debugf("Removed unused var %s @ byte %d", d.name, d.offset+argWidth)
		edits++
	}
	return edits, nil
}

// RemoveUnusedFunctions erases [LOAD_CONST code][MAKE_FUNCTION 0][STORE_NAME f]
// declarations of functions that nothing references.
func RemoveUnusedFunctions(m *MutableUnit) (int, error) {
	decls, err := findFunctionDeclarations(m)
	if err != nil || len(decls) == 0 {
		return 0, err
	}
	refs, err := referencedNames(m)
	if err != nil {
		return 0, err
	}

	edits := 0
	for _, d := range sortedByOffset(decls) {
		if refs[d.name] {
			continue
		}
		// A recursive function mentions itself; only other units count.
		self := m.Consts[d.value]
		if escapesToNested(m, d.name, asUnit(self)) {
			continue
		}
		m.nopFill(d.offset, d.offset+funcDeclWidth)
		logger().Debugf("Removed unused function %s @ byte %d", d.name, d.offset)
		edits++
	}
	return edits, nil
}
