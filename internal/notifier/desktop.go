package notifier

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

type commandRunner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Desktop raises an OS notification: notify-send on Linux and the BSDs,
// osascript on macOS.
type Desktop struct {
	appName string
	sound   string
	goos    string
	run     commandRunner
}

func NewDesktop(appName, sound string) *Desktop {
	return &Desktop{
		appName: appName,
		sound:   sound,
		goos:    runtime.GOOS,
		run:     runCommand,
	}
}

func (d *Desktop) Name() string {
	return "desktop"
}

func (d *Desktop) Send(ctx context.Context, notification Notification) error {
	switch d.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s",
			appleScriptString(notification.Body), appleScriptString(notification.Title))
		if d.sound != "" {
			script += " sound name " + appleScriptString(d.sound)
		}
		return d.run(ctx, "osascript", "-e", script)
	case "linux", "freebsd", "openbsd", "netbsd":
		args := []string{"--app-name=" + d.appName}
		if notification.Kind == KindFailure {
			args = append(args, "--urgency=critical")
		}
		args = append(args, notification.Title, notification.Body)
		return d.run(ctx, "notify-send", args...)
	default:
		return fmt.Errorf("desktop notifications are not supported on %s", d.goos)
	}
}

func appleScriptString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
