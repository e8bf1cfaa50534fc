package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// NoScenariosError is returned when a scenario directory holds no YAML files.
type NoScenariosError struct {
	Dir string
}

// Error implements the error interface.
func (e *NoScenariosError) Error() string {
	return fmt.Sprintf("no scenario files (*.yaml, *.yml) found in %s", e.Dir)
}

// FindScenarios returns path when it is a scenario file, or every .yaml and
// .yml file directly under the directory, sorted.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, &NoScenariosError{Dir: path}
	}
	sort.Strings(files)
	return files, nil
}

// SuiteResult summarizes a scenario suite run.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a scenario that failed to load, run or pass.
type ScenarioFailure struct {
	ScenarioPath string   `json:"scenario_path"`
	Name         string   `json:"name,omitempty"`
	Error        string   `json:"error"`
	Details      []string `json:"details,omitempty"`
}

// RunSuite loads and runs every scenario under path.
//
// For each scenario file:
// 1. Load and validate the scenario
// 2. Run it via RunContext
// 3. Collect and report results
func RunSuite(ctx context.Context, path string) (*SuiteResult, error) {
	files, err := FindScenarios(path)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{}
	for _, file := range files {
		result.TotalScenarios++

		scenario, err := LoadScenario(file)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				ScenarioPath: file,
				Error:        fmt.Sprintf("failed to load scenario: %v", err),
			})
			continue
		}

		runResult, err := RunContext(ctx, scenario)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				ScenarioPath: file,
				Name:         scenario.Name,
				Error:        fmt.Sprintf("scenario execution failed: %v", err),
			})
			continue
		}

		if !runResult.Pass {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				ScenarioPath: file,
				Name:         scenario.Name,
				Error:        fmt.Sprintf("%d expectation(s) failed", len(runResult.Errors)),
				Details:      runResult.Errors,
			})
			continue
		}

		result.Passed++
	}

	return result, nil
}
