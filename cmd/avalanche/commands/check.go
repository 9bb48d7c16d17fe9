/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: check.go
Description: "check" command implementation: validates that the
configured tracer, checker, and solver binaries exist and are executable
before a run is started.
*/

package commands

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunCheck validates the three external tool binaries.
func RunCheck(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tools := map[string]string{
		"tracer":  viper.GetString("tracer"),
		"checker": viper.GetString("checker"),
		"solver":  viper.GetString("solver"),
	}

	failed := false
	for name, path := range tools {
		if err := checkExecutable(path); err != nil {
			fmt.Fprintf(os.Stderr, "%-8s %s: %v\n", name, path, err)
			failed = true
			continue
		}
		fmt.Printf("%-8s %s: ok\n", name, path)
	}
	if failed {
		return fmt.Errorf("one or more tool binaries are unusable")
	}
	return nil
}

// checkExecutable accepts either an absolute/relative path or a bare
// name resolved through PATH.
func checkExecutable(path string) error {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("is a directory")
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("not executable")
	}
	return nil
}
