package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// flagValue reads a flag registered in init(). A lookup error means the flag
// name or type is wrong in code, so it panics instead of returning.
func flagValue[T any](name string, get func(string) (T, error)) T {
	val, err := get(name)
	if err != nil {
		panic(fmt.Sprintf("flag --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return flagValue(name, cmd.Flags().GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return flagValue(name, cmd.Flags().GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return flagValue(name, cmd.Flags().GetString)
}

// positiveInt reads an int flag and rejects zero or negative values.
func positiveInt(cmd *cobra.Command, name string) (int, error) {
	n := mustGetInt(cmd, name)
	if n <= 0 {
		return 0, fmt.Errorf("--%s must be positive, got %d", name, n)
	}
	return n, nil
}
