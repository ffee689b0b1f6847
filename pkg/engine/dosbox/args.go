package dosbox

import (
	"errors"
	"fmt"
	"slices"
)

// ErrArgumentCollision is returned if a unique argument is given twice.
var ErrArgumentCollision = errors.New("argument collision")

// Argument is a single DOSBox command line switch with an optional value.
type Argument struct {
	name       string
	value      string
	repeatable bool
}

// String implements [fmt.Stringer].
func (a Argument) String() string {
	s := "-" + a.name
	if a.value != "" {
		s += " " + a.value
	}
	return s
}

// Equal compares names for unique arguments, names and values otherwise.
func (a Argument) Equal(other Argument) bool {
	if a.name != other.name {
		return false
	}
	if a.repeatable {
		return a.value == other.value
	}
	return true
}

// UniqueArg returns an argument that may appear only once.
func UniqueArg(name string, value ...string) Argument {
	a := Argument{name: name}
	if len(value) > 0 {
		a.value = value[0]
	}
	return a
}

// RepeatableArg returns an argument that may appear several times with
// different values.
func RepeatableArg(name, value string) Argument {
	return Argument{name: name, value: value, repeatable: true}
}

// ArgConf loads an additional configuration file. Later files override
// earlier ones.
func ArgConf(path string) Argument {
	return RepeatableArg("conf", path)
}

// ArgCommand runs a DOS command after the autoexec section.
func ArgCommand(cmd string) Argument {
	return RepeatableArg("c", cmd)
}

func ArgFullscreen() Argument { return UniqueArg("fullscreen") }
func ArgNoConsole() Argument  { return UniqueArg("noconsole") }

// Arguments is an ordered list of DOSBox arguments.
type Arguments []Argument

// Add appends arguments.
func (a *Arguments) Add(e ...Argument) {
	*a = append(*a, e...)
}

// Build compiles the list into strings usable with [exec.Command].
func (a Arguments) Build() ([]string, error) {
	out := make([]string, 0, 2*len(a))
	for idx, arg := range a {
		if i := slices.IndexFunc(a[:idx], arg.Equal); i != -1 {
			return nil, fmt.Errorf("%w: %s, %s", ErrArgumentCollision, arg, a[i])
		}
		out = append(out, "-"+arg.name)
		if arg.value != "" {
			out = append(out, arg.value)
		}
	}
	return out, nil
}

// quote wraps a host path for use inside a DOSBox shell command.
func quote(path string) string {
	return `"` + path + `"`
}
