package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/op2gl/op2gl/internal/config"
	"github.com/op2gl/op2gl/internal/debug"
	"github.com/op2gl/op2gl/internal/ui"
)

// errAborted is returned when the operator declines a confirmation.
var errAborted = errors.New("aborted by operator")

func printProgress(w io.Writer, msg string) {
	if !debug.IsQuiet() {
		ui.Progress(w, msg)
	}
}

// confirm asks before a step with effects outside this run. It passes
// without asking under --yes or when stdin is not a terminal.
func confirm(title, description string) error {
	if yesFlag || !ui.IsInputTerminal() {
		return nil
	}
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Continue").
		Negative("Cancel").
		Value(&ok).
		WithTheme(huh.ThemeDracula()).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errAborted
		}
		return fmt.Errorf("confirmation failed: %w", err)
	}
	if !ok {
		return errAborted
	}
	return nil
}

// configKeyAnnotation marks a flag that overrides a config key.
const configKeyAnnotation = "op2gl_config_key"

// bindConfigKey declares that flag overrides key when set. The binding is
// applied by bindConfigFlags once the config is loaded.
func bindConfigKey(cmd *cobra.Command, flag, key string) {
	_ = cmd.Flags().SetAnnotation(flag, configKeyAnnotation, []string{key})
}

func bindConfigFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) != 1 || err != nil {
			return
		}
		err = config.BindFlag(keys[0], f)
	})
	return err
}
