package gitdeps

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg/platform"
)

// Dependency is a single git checkout declared in a DEPS file
type Dependency struct {
	// Path is relative to the directory containing the DEPS file
	Path      string
	URL       string
	Revision  string
	Condition string
}

// File contains the evaluated content of a DEPS file
type File struct {
	Vars map[string]string
	Deps []Dependency

	rawVars starlark.StringDict
}

var varMatcher = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

var knownPlatforms = []platform.Name{
	platform.Windows, platform.Darwin, platform.Linux,
	platform.FreeBSD, platform.OpenBSD, platform.NetBSD,
}

func starVar(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name)
	if err != nil {
		return nil, err
	}

	return starlark.String("{" + name + "}"), nil
}

func starStr(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.String

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &value)
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Load reads and evaluates the DEPS file at path
func Load(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", path)
	}

	return Parse(path, src)
}

// Parse evaluates the content of a DEPS file. filename is only used in error messages.
func Parse(filename string, src []byte) (*File, error) {
	builtins := starlark.StringDict{
		"Var": starlark.NewBuiltin("Var", starVar),
		"Str": starlark.NewBuiltin("Str", starStr),
	}

	thread := &starlark.Thread{Name: "deps"}
	globals, err := starlark.ExecFile(thread, filename, src, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to evaluate %s:\n%s", filename, evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to evaluate %s", filename)
	}

	result := &File{
		Vars:    map[string]string{},
		rawVars: starlark.StringDict{},
	}

	if rawVars, ok := globals["vars"]; ok {
		dict, ok := rawVars.(*starlark.Dict)
		if !ok {
			return nil, eris.Errorf("%s: vars must be a dict but is a %s", filename, rawVars.Type())
		}

		for _, item := range dict.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, eris.Errorf("%s: found key of type %s in vars but only strings are supported", filename, item[0].Type())
			}

			result.rawVars[key] = item[1]
			switch value := item[1].(type) {
			case starlark.String:
				result.Vars[key] = value.GoString()
			case starlark.Bool:
				if value {
					result.Vars[key] = "True"
				} else {
					result.Vars[key] = "False"
				}
			default:
				result.Vars[key] = value.String()
			}
		}
	}

	rawDeps, ok := globals["deps"]
	if !ok {
		return result, nil
	}

	dict, ok := rawDeps.(*starlark.Dict)
	if !ok {
		return nil, eris.Errorf("%s: deps must be a dict but is a %s", filename, rawDeps.Type())
	}

	for _, item := range dict.Items() {
		path, ok := starlark.AsString(item[0])
		if !ok {
			return nil, eris.Errorf("%s: found key of type %s in deps but only strings are supported", filename, item[0].Type())
		}

		dep, skip, err := result.parseDep(path, item[1])
		if err != nil {
			return nil, eris.Wrapf(err, "%s: invalid entry for %s", filename, path)
		}

		if !skip {
			result.Deps = append(result.Deps, dep)
		}
	}

	sort.Slice(result.Deps, func(i, j int) bool {
		return result.Deps[i].Path < result.Deps[j].Path
	})

	return result, nil
}

func (f *File) parseDep(path string, value starlark.Value) (Dependency, bool, error) {
	dep := Dependency{Path: path}

	var rawURL string
	switch value := value.(type) {
	case starlark.String:
		rawURL = value.GoString()
	case *starlark.Dict:
		depType, err := dictString(value, "dep_type")
		if err != nil {
			return dep, false, err
		}

		// cipd packages and other non-git entries aren't handled here
		if depType != "" && depType != "git" {
			return dep, true, nil
		}

		rawURL, err = dictString(value, "url")
		if err != nil {
			return dep, false, err
		}

		dep.Condition, err = dictString(value, "condition")
		if err != nil {
			return dep, false, err
		}
	case starlark.NoneType:
		return dep, true, nil
	default:
		return dep, false, eris.Errorf("unexpected type %s, only strings and dicts are supported", value.Type())
	}

	if rawURL == "" {
		return dep, true, nil
	}

	expanded, err := f.Expand(rawURL)
	if err != nil {
		return dep, false, err
	}

	dep.URL, dep.Revision = splitRevision(expanded)
	return dep, false, nil
}

func dictString(dict *starlark.Dict, key string) (string, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil {
		return "", err
	}

	if !found || value == starlark.None {
		return "", nil
	}

	str, ok := starlark.AsString(value)
	if !ok {
		return "", eris.Errorf("expected %s to be a string but found %s", key, value.Type())
	}

	return str, nil
}

// Expand replaces all {name} placeholders with the value of the matching var
func (f *File) Expand(value string) (string, error) {
	var missing []string
	result := varMatcher.ReplaceAllStringFunc(value, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := f.Vars[name]
		if !ok {
			missing = append(missing, name)
			return match
		}

		return value
	})

	if len(missing) > 0 {
		return "", eris.Errorf("undefined vars %s", strings.Join(missing, ", "))
	}

	return result, nil
}

// splitRevision splits "url@revision". The revision is empty if there is none.
func splitRevision(url string) (string, string) {
	pos := strings.LastIndex(url, "@")
	if pos == -1 || pos < strings.LastIndex(url, "/") {
		return url, ""
	}

	return url[:pos], url[pos+1:]
}

// Active evaluates the dependency's condition for the given host platform.
func (f *File) Active(dep Dependency, host platform.Name) (bool, error) {
	if dep.Condition == "" {
		return true, nil
	}

	env := make(starlark.StringDict, len(f.rawVars)+len(knownPlatforms)+1)
	for _, name := range knownPlatforms {
		env["checkout_"+name.Key()] = starlark.Bool(name == host)
	}
	env["host_os"] = starlark.String(host.Key())

	for key, value := range f.rawVars {
		env[key] = value
	}

	thread := &starlark.Thread{Name: "condition"}
	result, err := starlark.Eval(thread, dep.Path, dep.Condition, env)
	if err != nil {
		return false, eris.Wrapf(err, "failed to evaluate condition %q of %s", dep.Condition, dep.Path)
	}

	return bool(result.Truth()), nil
}

// Select returns all dependencies that are active on the given platform.
func (f *File) Select(host platform.Name) ([]Dependency, error) {
	selected := make([]Dependency, 0, len(f.Deps))
	for _, dep := range f.Deps {
		active, err := f.Active(dep, host)
		if err != nil {
			return nil, err
		}

		if active {
			selected = append(selected, dep)
		}
	}

	return selected, nil
}
