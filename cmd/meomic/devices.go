package main

import (
	"fmt"
	"runtime"

	"github.com/meomic/meomic"
	"github.com/meomic/meomic/device"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var devicesFlags struct {
	backend   string
	helpSetup bool
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List output devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if devicesFlags.helpSetup {
			printSetupHelp(runtime.GOOS)
			return nil
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("backend") {
			cfg.Backend = devicesFlags.backend
		}

		backend := meomic.NewBackend(cfg)
		infos, err := backend.Devices()
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}

		if err := pterm.DefaultTable.WithHasHeader().WithData(deviceTable(infos)).Render(); err != nil {
			return err
		}
		if _, ok := device.FindVirtual(infos); !ok {
			pterm.Println()
			pterm.Warning.Println("No virtual audio device found. Run 'meomic devices --help-setup'.")
		}
		return nil
	},
}

func init() {
	devicesCmd.Flags().StringVar(&devicesFlags.backend, "backend", "", "output backend: host or clock")
	devicesCmd.Flags().BoolVar(&devicesFlags.helpSetup, "help-setup", false, "print virtual audio device setup instructions")
}

func deviceTable(infos []device.Info) pterm.TableData {
	data := pterm.TableData{{"ID", "Name", "Default", "Virtual"}}
	for _, info := range infos {
		data = append(data, []string{info.ID, info.Name, yesNo(info.IsDefault), yesNo(info.IsVirtual)})
	}
	return data
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

// setupHelp is the virtual audio setup walkthrough per GOOS.
var setupHelp = map[string][]string{
	"windows": {
		"Download VB-Cable from https://vb-audio.com/Cable/",
		"Run the installer as Administrator",
		"Restart the PC",
		"Run 'meomic serve --device \"CABLE Input\"'",
		"In your application, select 'CABLE Output' as the microphone",
	},
	"darwin": {
		"Download BlackHole from https://existential.audio/blackhole/",
		"Install the 2ch version",
		"Run 'meomic serve --device \"BlackHole 2ch\"'",
		"In your application, select 'BlackHole 2ch' as the microphone",
	},
	"linux": {
		"Run: pactl load-module module-null-sink sink_name=MeoMic",
		"Run 'meomic serve --device MeoMic'",
		"In your application, select 'Monitor of MeoMic' as the microphone",
	},
}

func printSetupHelp(goos string) {
	steps, ok := setupHelp[goos]
	if !ok {
		steps = setupHelp["linux"]
	}

	pterm.DefaultSection.Println("Virtual audio setup")
	for i, step := range steps {
		pterm.Printfln("  %d. %s", i+1, step)
	}
}
