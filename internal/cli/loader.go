package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/summarycheck/internal/harness"
)

// LoadMode controls how errors are handled during scenario loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadedScenario pairs a scenario with the file it came from.
type LoadedScenario struct {
	Path     string
	Scenario *harness.Scenario
}

// LoadError represents an error that occurred while loading scenarios.
type LoadError struct {
	Code    string
	Message string
	Path    string // scenario file, if the error belongs to one
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No scenario files found
	ErrCodeLoadFailed  = "E004" // Scenario failed to load or validate
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeConfig      = "E006" // Invalid configuration
	ErrCodeWriteFailed = "E007" // File write error

	// Run errors
	ErrCodeScenarioFailed = "E101" // One or more checkpoints failed
	ErrCodeOracle         = "E102" // Oracle could not describe the subject
	ErrCodeHistory        = "E103" // Run history unavailable
)

// scenarioExts are the file extensions LoadScenarios picks up.
var scenarioExts = map[string]bool{".yaml": true, ".yml": true, ".cue": true}

// LoadScenarios loads every scenario under path, which may be a single file
// or a directory walked recursively. filter is a glob matched against the
// file name without extension.
//
// Scenarios are returned sorted by path. Duplicate scenario names are
// reported as load errors. A nil slice means path itself was unusable.
func LoadScenarios(path, filter string, mode LoadMode) ([]LoadedScenario, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("scenarios path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing scenarios path: %v", err)}}
	}

	var files []string
	if info.IsDir() {
		files, err = findScenarioFiles(path, filter)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
	} else {
		files = []string{path}
	}
	if len(files) == 0 {
		return []LoadedScenario{}, nil
	}

	loaded := []LoadedScenario{}
	seen := make(map[string]string)
	var errs []error
	for _, file := range files {
		scenario, err := harness.LoadScenario(file)
		if err == nil {
			if prev, dup := seen[scenario.Name]; dup {
				err = fmt.Errorf("duplicate scenario name %q (also in %s)", scenario.Name, prev)
			}
		}
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), Path: file})
			if mode == LoadModeFailFast {
				return loaded, errs
			}
			continue
		}
		seen[scenario.Name] = file
		loaded = append(loaded, LoadedScenario{Path: file, Scenario: scenario})
	}
	return loaded, errs
}

// findScenarioFiles finds all scenario files in a directory.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Golden traces live next to scenarios and are never scenarios themselves.
			if d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if !scenarioExts[ext] {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			if matched, _ := filepath.Match(filter, name); !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}
