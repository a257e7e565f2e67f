package vision

// ClickArgsFromMap reads click coordinates from loosely shaped action
// arguments. It accepts "x"/"y", "coordinate_x"/"coordinate_y", and a
// "coordinate" pair, in that order of preference per axis.
func ClickArgsFromMap(m map[string]any) ClickArgs {
	var args ClickArgs
	args.X = firstCoordinate(m, "x", "coordinate_x")
	args.Y = firstCoordinate(m, "y", "coordinate_y")

	if pair, ok := m["coordinate"].([]any); ok && len(pair) == 2 {
		if args.X == nil {
			args.X = number(pair[0])
		}
		if args.Y == nil {
			args.Y = number(pair[1])
		}
	}
	return args
}

func firstCoordinate(m map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		if v := number(m[key]); v != nil {
			return v
		}
	}
	return nil
}
