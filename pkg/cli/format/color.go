package format

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgCyan, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// init honours AIDEPLOY_NO_COLOR and AIDEPLOY_FORCE_COLOR on top of
// fatih/color's own NO_COLOR and terminal detection.
func init() {
	if _, ok := os.LookupEnv("AIDEPLOY_NO_COLOR"); ok {
		color.NoColor = true
	}
	if _, ok := os.LookupEnv("AIDEPLOY_FORCE_COLOR"); ok {
		color.NoColor = false
	}
}

// EnableColor enables or disables colored output globally
func EnableColor(enable bool) {
	color.NoColor = !enable
}

// IsColorEnabled returns whether colored output is enabled
func IsColorEnabled() bool {
	return !color.NoColor
}

// Success formats a message as a success (green)
func Success(format string, a ...interface{}) string {
	return successColor.Sprintf(format, a...)
}

// Warning formats a message as a warning (yellow)
func Warning(format string, a ...interface{}) string {
	return warningColor.Sprintf(format, a...)
}

// Error formats a message as an error (red)
func Error(format string, a ...interface{}) string {
	return errorColor.Sprintf(format, a...)
}

// Info formats a message as info (cyan)
func Info(format string, a ...interface{}) string {
	return infoColor.Sprintf(format, a...)
}

// Header formats a message as a header (bold blue)
func Header(format string, a ...interface{}) string {
	return headerColor.Sprintf(format, a...)
}

// Dim formats a message as dimmed
func Dim(format string, a ...interface{}) string {
	return dimColor.Sprintf(format, a...)
}

// Label formats a key and value with a label style
func Label(key, value string) string {
	return fmt.Sprintf("%s %s", labelColor.Sprint(key+":"), value)
}

// StatusSymbol returns a colorized status symbol
func StatusSymbol(success bool) string {
	if success {
		return successColor.Sprint("✓")
	}
	return errorColor.Sprint("✗")
}

// StatusLabel colors a step or revision status.
func StatusLabel(status string) string {
	status = strings.ToLower(status)
	switch status {
	case "ok", "ready", "enabled", "true":
		return color.New(color.FgGreen, color.Bold).Sprint(status)
	case "skipped", "pending", "unknown", "disabled":
		return color.New(color.FgYellow, color.Bold).Sprint(status)
	case "failed", "false", "destroyed":
		return color.New(color.FgRed, color.Bold).Sprint(status)
	default:
		return status
	}
}
