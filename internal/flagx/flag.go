// Package flagx lets several flag sets share one command line: each
// component picks out the arguments it owns and parses only those.
package flagx

import "strings"

// Set names the flags a component owns. Names may be given with one or two
// leading dashes; both spellings match on the command line. Bool flags never
// consume the following argument.
type Set struct {
	Value []string
	Bool  []string
}

func flagName(arg string) string {
	return strings.TrimLeft(arg, "-")
}

// Filter returns the arguments of args that belong to s, in the order
// given. A value flag keeps the next argument unless it starts with a dash.
// Scanning stops at a bare "--".
func (s Set) Filter(args []string) []string {
	kinds := make(map[string]bool, len(s.Value)+len(s.Bool))
	for _, f := range s.Value {
		kinds[flagName(f)] = true
	}
	for _, f := range s.Bool {
		kinds[flagName(f)] = false
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name, _, hasValue := strings.Cut(arg, "=")
		takesValue, ok := kinds[flagName(name)]
		if !ok {
			continue
		}

		out = append(out, arg)
		if hasValue || !takesValue {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// FilterArgs keeps the value flags in allowed and their values.
func FilterArgs(args []string, allowed []string) []string {
	return Set{Value: allowed}.Filter(args)
}

// ConfigPath returns the value of the last -c or -config flag in args, or ""
// when neither is present.
func ConfigPath(args []string) string {
	var path string
	filtered := FilterArgs(args, []string{"-c", "-config"})
	for i := 0; i < len(filtered); i++ {
		if _, v, ok := strings.Cut(filtered[i], "="); ok {
			path = v
			continue
		}
		if i+1 < len(filtered) && !strings.HasPrefix(filtered[i+1], "-") {
			path = filtered[i+1]
			i++
		}
	}
	return path
}
