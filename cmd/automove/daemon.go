package main

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"automove/internal/config"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.automove.relocator"
	systemdUnit  = "automove.service"

	// serviceStopTimeout leaves room for run's own 10s shutdown timeout.
	serviceStopTimeout = 15
)

// serviceSpec is everything a service manager needs to start 'automove run'.
// All paths are absolute: service managers do not start in the user's cwd.
type serviceSpec struct {
	Label       string
	Exec        string
	Args        []string
	WorkDir     string
	EnvFile     string // "" when no dotenv file exists
	LogFile     string
	ErrLogFile  string
	StopTimeout int
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Install or remove automove as a user service (launchd/systemd)",
	}
	cmd.AddCommand(installDaemonCmd())
	cmd.AddCommand(uninstallDaemonCmd())
	return cmd
}

func installDaemonCmd() *cobra.Command {
	var printOnly, force bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install automove as a user service",
		Long: `Validates the configuration, then writes a launchd agent (macOS) or a
systemd user unit (Linux) that runs 'automove run' with absolute config and
.env paths. The service restarts on failure but not after a clean stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Discord.Enabled {
				return errors.New("discord.enabled is false: the service would exit immediately")
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}

			spec, err := newServiceSpec(execPath, resolveConfigPath(), envFile, cfg)
			if err != nil {
				return err
			}
			unit, err := renderUnit(runtime.GOOS, spec)
			if err != nil {
				return err
			}
			if printOnly {
				fmt.Print(unit)
				return nil
			}

			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(spec.LogFile), 0o755); err != nil {
				return err
			}
			path, err := writeUnit(runtime.GOOS, home, unit, force)
			if err != nil {
				return err
			}
			fmt.Printf("Service installed: %s\n", path)
			printServiceHints(runtime.GOOS, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the service file instead of installing it")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing service file")
	return cmd
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the automove user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, err := unitPath(runtime.GOOS, home)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", path)
			if runtime.GOOS == "linux" {
				fmt.Println("Run 'systemctl --user daemon-reload' to forget the unit.")
			}
			return nil
		},
	}
}

// newServiceSpec resolves the config path, the dotenv file and the data
// directory to absolute paths.
func newServiceSpec(execPath, cfgPath, envPath string, cfg *config.Config) (serviceSpec, error) {
	absCfg, err := filepath.Abs(config.ExpandPath(cfgPath))
	if err != nil {
		return serviceSpec{}, err
	}
	dataDir, err := filepath.Abs(config.ExpandPath(cfg.General.DataDir))
	if err != nil {
		return serviceSpec{}, err
	}

	spec := serviceSpec{
		Label:       launchdLabel,
		Exec:        execPath,
		Args:        []string{"run", "--config", absCfg},
		WorkDir:     dataDir,
		LogFile:     filepath.Join(dataDir, "logs", "automove.log"),
		ErrLogFile:  filepath.Join(dataDir, "logs", "automove-error.log"),
		StopTimeout: serviceStopTimeout,
	}

	if envPath != "" {
		absEnv, err := filepath.Abs(config.ExpandPath(envPath))
		if err != nil {
			return serviceSpec{}, err
		}
		if _, err := os.Stat(absEnv); err == nil {
			spec.EnvFile = absEnv
			spec.Args = append(spec.Args, "--env-file", absEnv)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return serviceSpec{}, fmt.Errorf("env file %s: %w", absEnv, err)
		}
	}
	return spec, nil
}

var unitFuncs = template.FuncMap{
	"xml": html.EscapeString,
	"arg": systemdQuote,
}

var unitTemplates = map[string]*template.Template{
	"darwin": template.Must(template.New("launchd").Funcs(unitFuncs).Parse(launchdTemplate)),
	"linux":  template.Must(template.New("systemd").Funcs(unitFuncs).Parse(systemdTemplate)),
}

func renderUnit(goos string, spec serviceSpec) (string, error) {
	tmpl, ok := unitTemplates[goos]
	if !ok {
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, spec); err != nil {
		return "", fmt.Errorf("render service file: %w", err)
	}
	return buf.String(), nil
}

func unitPath(goos, home string) (string, error) {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

func writeUnit(goos, home, unit string, force bool) (string, error) {
	path, err := unitPath(goos, home)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(unit), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func printServiceHints(goos, path string) {
	switch goos {
	case "darwin":
		fmt.Printf("To start: launchctl load %s\n", path)
		fmt.Printf("To stop:  launchctl unload %s\n", path)
	case "linux":
		fmt.Println("To start:  systemctl --user daemon-reload && systemctl --user start automove")
		fmt.Println("To enable: systemctl --user enable automove")
		fmt.Println("Logs:      journalctl --user -u automove -f")
	}
}

// systemdQuote quotes an ExecStart argument when it contains whitespace or quotes.
func systemdQuote(s string) string {
	if !strings.ContainsAny(s, " \t\"\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{xml .Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{xml .Exec}}</string>
{{- range .Args}}
        <string>{{xml .}}</string>
{{- end}}
    </array>
    <key>WorkingDirectory</key>
    <string>{{xml .WorkDir}}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>ThrottleInterval</key>
    <integer>10</integer>
    <key>ExitTimeOut</key>
    <integer>{{.StopTimeout}}</integer>
    <key>StandardOutPath</key>
    <string>{{xml .LogFile}}</string>
    <key>StandardErrorPath</key>
    <string>{{xml .ErrLogFile}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=automove ticket channel relocator
After=network-online.target
Wants=network-online.target
StartLimitIntervalSec=300
StartLimitBurst=5

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
{{- if .EnvFile}}
EnvironmentFile=-{{.EnvFile}}
{{- end}}
ExecStart={{arg .Exec}}{{range .Args}} {{arg .}}{{end}}
Restart=on-failure
RestartSec=10
KillSignal=SIGTERM
TimeoutStopSec={{.StopTimeout}}

[Install]
WantedBy=default.target
`
