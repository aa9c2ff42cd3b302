// Package prompt asks the interactive questions of "config init".
package prompt

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err comes from Ctrl+C or Ctrl+D.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, promptui.ErrInterrupt) ||
		errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrAbort)
}

func run(p promptui.Prompt) (string, error) {
	v, err := p.Run()
	if err != nil && IsAborted(err) {
		return "", ErrAborted
	}
	return v, err
}

// Input asks for a non-empty value, proposing def.
func Input(label, def string) (string, error) {
	return run(promptui.Prompt{Label: label, Default: def, AllowEdit: true, Validate: nonEmpty})
}

// Port asks for a TCP port, proposing def.
func Port(label string, def int) (int, error) {
	v, err := run(promptui.Prompt{Label: label, Default: strconv.Itoa(def), Validate: validPort})
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// Secret asks for a value without echoing it.
func Secret(label string) (string, error) {
	return run(promptui.Prompt{Label: label, Mask: '*', Validate: nonEmpty})
}

// Choose asks to pick one of items and returns it.
func Choose(label string, items []string) (string, error) {
	s := promptui.Select{Label: label, Items: items, HideHelp: true}
	_, v, err := s.Run()
	if err != nil && IsAborted(err) {
		return "", ErrAborted
	}
	return v, err
}

func nonEmpty(s string) error {
	if s == "" {
		return errors.New("a value is required")
	}
	return nil
}

func validPort(s string) error {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%q is not a port (1-65535)", s)
	}
	return nil
}
