package pkg

import (
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// rootMarkers are checked in order in every directory while searching for the project root
var rootMarkers = []string{"bootstrap.toml", ".git"}

// GetProjectRoot returns the closest directory at or above start that contains a
// bootstrap.toml file or a .git entry.
func GetProjectRoot(start string) (string, error) {
	mypath, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to resolve %s", start)
	}

	for {
		for _, marker := range rootMarkers {
			_, err := os.Stat(filepath.Join(mypath, marker))
			if err == nil {
				return mypath, nil
			}

			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrap(err, "Error ocurred while searching for project root")
			}
		}

		nextPath := filepath.Dir(mypath)
		if mypath == nextPath {
			break
		}
		mypath = nextPath
	}

	return "", eris.New("Project root not found")
}

// Output receives the task banners
var Output io.Writer = os.Stdout

func PrintTask(msg string) {
	colorstring.Fprintf(Output, "[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Fprintf(Output, "[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Fprintf(Output, "[red][bold]  ->[reset] %s\n", msg)
}
