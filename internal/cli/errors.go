package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/lock"
)

// PrintError prints an error to w. A DeployError uses its What/Why/Fix form,
// or JSON in --json mode.
func PrintError(w io.Writer, err error) {
	deployErr := deployerrors.AsDeployError(err)
	if jsonOut {
		payload := map[string]any{"error": err.Error()}
		if deployErr != nil {
			payload["error"] = deployErr
		}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}
	if deployErr != nil {
		fmt.Fprintln(w, deployErr.UserMessage())
		if verbose {
			fmt.Fprintf(w, "\nCode: %s\n", deployErr.Code)
			if deployErr.Cause != nil {
				fmt.Fprintf(w, "Cause: %v\n", deployErr.Cause)
			}
		}
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if deployErr := deployerrors.AsDeployError(err); deployErr != nil {
		return deployErr.Category().ExitCode()
	}
	var running *lock.AlreadyRunningError
	if errors.As(err, &running) {
		return 2
	}
	return 1
}
