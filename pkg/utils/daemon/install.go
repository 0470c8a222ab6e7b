package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bflycam/bfly/hack"
)

var (
	unitName = "bfly.service"
	unitPath = "/etc/systemd/system/" + unitName
)

// renderUnit fills the unit template for the binary at exePath.
func renderUnit(exePath string, allowNonRootAccess bool) string {
	extra := ""
	if allowNonRootAccess {
		extra = "--always-allow-non-root-access"
	}
	tmpl := strings.ReplaceAll(hack.SystemdUnitTemplate, "/path/to/bfly", exePath)
	tmpl = strings.ReplaceAll(tmpl, " EXTRA_ARGS", " "+extra)
	return strings.ReplaceAll(tmpl, " \n", "\n")
}

func Install(allowNonRootAccess bool) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	// warn if the file already exists
	_, err = os.Stat(unitPath)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	logrus.Infof("writing systemd unit to %s", unitPath)
	err = os.WriteFile(unitPath, []byte(renderUnit(exePath, allowNonRootAccess)), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	logrus.Infof("starting bfly")

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
