package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/pkg/provider/mic"
	"github.com/MrWong99/livescribe/pkg/provider/mic/portaudio"
)

// languageChoices are offered by the interactive language prompt. The first
// entry is the fallback for an empty or unknown answer.
var languageChoices = []struct {
	Name string
	Tag  string
}{
	{"English", "en-US"},
	{"Turkish", "tr-TR"},
}

// printDevices lists the input devices as "index: name" lines.
func printDevices(w io.Writer) int {
	terminate, err := portaudio.Initialize()
	if err != nil {
		fmt.Fprintf(w, "livescribe: %v\n", err)
		return 1
	}
	defer terminate()

	if err := writeDevices(w, portaudio.Enumerator{}); err != nil {
		fmt.Fprintf(w, "livescribe: %v\n", err)
		return 1
	}
	return 0
}

func writeDevices(w io.Writer, e mic.DeviceEnumerator) error {
	devices, err := e.Devices()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Available input devices:")
	for _, d := range mic.InputOnly(devices) {
		fmt.Fprintf(w, "%d: %s\n", d.Index, d.Name)
	}
	return nil
}

// promptSelections asks for the input device (unless a file is replayed) and
// the recognition language, and stores the answers in cfg. The enumerator's
// backend must already be initialised.
func promptSelections(cfg *config.Config, in io.Reader, out io.Writer, e mic.DeviceEnumerator) error {
	sc := bufio.NewScanner(in)

	if cfg.Audio.File == "" {
		idx, err := promptDevice(sc, out, e)
		if err != nil {
			return err
		}
		cfg.Audio.Device = idx
	}

	cfg.Recognition.Language = promptLanguage(sc, out)
	return nil
}

// promptDevice returns nil for the system default.
func promptDevice(sc *bufio.Scanner, out io.Writer, e mic.DeviceEnumerator) (*int, error) {
	if err := writeDevices(out, e); err != nil {
		return nil, err
	}
	devices, _ := e.Devices()
	valid := make(map[int]bool)
	for _, d := range mic.InputOnly(devices) {
		valid[d.Index] = true
	}

	for {
		fmt.Fprint(out, "Select the device index you want to use (empty for default): ")
		if !sc.Scan() {
			return nil, nil
		}
		answer := strings.TrimSpace(sc.Text())
		if answer == "" {
			return nil, nil
		}
		idx, err := strconv.Atoi(answer)
		if err != nil || !valid[idx] {
			fmt.Fprintf(out, "%q is not an input device index.\n", answer)
			continue
		}
		return &idx, nil
	}
}

func promptLanguage(sc *bufio.Scanner, out io.Writer) string {
	fmt.Fprintln(out, "Select the language for speech recognition:")
	for i, c := range languageChoices {
		fmt.Fprintf(out, "%d: %s\n", i+1, c.Name)
	}
	fmt.Fprint(out, "Enter the number of your choice: ")

	fallback := languageChoices[0]
	if !sc.Scan() {
		return fallback.Tag
	}
	n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || n < 1 || n > len(languageChoices) {
		fmt.Fprintf(out, "Invalid choice. Defaulting to %s.\n", fallback.Name)
		slog.Debug("invalid language choice", "answer", sc.Text())
		return fallback.Tag
	}
	return languageChoices[n-1].Tag
}
