package executor

import (
	"fmt"
	"path"
	"regexp"
	"strconv"

	"al.essio.dev/pkg/shellescape"
)

// Shell commands sent to the backend host. Every path is quoted and file
// contents travel on stdin, so no caller-supplied text is ever parsed by the
// remote shell.

// MkdirCommand creates dir and its parents
func MkdirCommand(dir string) string {
	return "mkdir -p " + shellescape.Quote(dir)
}

// WriteFileCommand replaces the file at p with the command's standard input
func WriteFileCommand(p string) string {
	return "cat > " + shellescape.Quote(p)
}

// ChmodExecCommand marks p executable
func ChmodExecCommand(p string) string {
	return "chmod +x " + shellescape.Quote(p)
}

// LaunchCommand starts script detached inside dir and prints the process id
func LaunchCommand(dir, python, script, logFile string) string {
	return fmt.Sprintf("cd %s && { nohup %s %s > %s 2>&1 < /dev/null & echo $!; }",
		shellescape.Quote(dir),
		shellescape.Quote(python),
		shellescape.Quote(script),
		shellescape.Quote(logFile),
	)
}

// ProcessAliveCommand exits zero only while pid is running
func ProcessAliveCommand(pid string) string {
	return "ps -p " + shellescape.Quote(pid) + " > /dev/null 2>&1"
}

// KillCommand sends SIGTERM to pid
func KillCommand(pid string) string {
	return "kill " + shellescape.Quote(pid)
}

// TailLogCommand prints the last n lines of logFile, or nothing if it is missing
func TailLogCommand(logFile string, n int) string {
	return fmt.Sprintf("tail -n %d %s 2>/dev/null || echo ''", n, shellescape.Quote(logFile))
}

// ListDirCommand lists entries of dir whose names start with prefix
func ListDirCommand(dir, prefix string) string {
	return fmt.Sprintf("ls -1 %s 2>/dev/null | grep -E %s || echo ''",
		shellescape.Quote(dir),
		shellescape.Quote("^"+regexp.QuoteMeta(prefix)),
	)
}

// JoinRemote joins remote path elements
func JoinRemote(elem ...string) string {
	return path.Join(elem...)
}

// ValidPID reports whether s looks like a process id
func ValidPID(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0
}

// PingCommand succeeds whenever the host accepts commands
func PingCommand() string {
	return "echo ok"
}
