package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand())
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands
func buildRoot(c *command) *cobra.Command {
	if c.global == nil {
		c.global = &GlobalFlags{}
	}
	root := createRootCommand(c.global)
	root.AddCommand(
		createRunCommand(c, &RunFlags{}),
		createExecCommand(c, &ExecFlags{}),
		createSpawnCommand(c, &SpawnFlags{}),
		createCommandsCommand(c, &ListFlags{}),
		createPsCommand(c, &ListFlags{}),
		createServeCommand(c),
		createHashPasswordCommand(c),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskexec",
		Short: "Run commands under a timeout watchdog",
		Long: `Taskexec runs external commands with output relayed line by line,
an optional execution timeout and guaranteed cleanup of spawned processes.

Examples:
  taskexec run --timeout=30s -- make test
  taskexec run --shell="ls | wc -l"
  taskexec exec build --config=taskexec.toml
  taskexec serve --config=taskexec.toml
  taskexec run --api-url=http://remote:8080/api -- uname -a`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level: error, warning, info, verbose, debug")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", "", "log format: text or json")
	return root
}

func createRunCommand(c *command, f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Run a command and wait for it",
		Long: `Run a command, relay its output and exit with its exit code.
A run killed by the timeout exits with 124.

Examples:
  taskexec run -- echo hello
  taskexec run --timeout=5s --dir=/tmp -- ./script.sh
  taskexec run --env=FOO=bar --newenv -- env
  taskexec run --shell="echo $HOME && ls"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(*f, args)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "label used in logs, metrics and history")
	cmd.Flags().StringVar(&f.Shell, "shell", "", "shell-form command line instead of ARGS")
	cmd.Flags().StringVar(&f.WorkDir, "dir", "", "working directory")
	cmd.Flags().StringSliceVar(&f.EnvKVs, "env", nil, "KEY=VALUE environment overrides (repeatable)")
	cmd.Flags().BoolVar(&f.NewEnvironment, "newenv", false, "do not inherit the environment")
	cmd.Flags().StringVar(&f.Input, "input", "", "text fed to the command's stdin")
	cmd.Flags().BoolVar(&f.Stdin, "stdin", false, "forward this process's stdin to the command")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "kill the command after this long (0 disables)")
	cmd.Flags().BoolVar(&f.Resolve, "resolve", false, "resolve the executable against --dir")
	cmd.Flags().BoolVar(&f.SearchPath, "search-path", false, "with --resolve, also search PATH")
	cmd.Flags().BoolVar(&f.LogLines, "log-lines", false, "log output lines through the logger instead of passing them through")
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 0, "request timeout (0 waits for the run)")
	return cmd
}

func createExecCommand(c *command, f *ExecFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec NAME",
		Short: "Run a command defined in the config file",
		Long: `Run a named command from the [[commands]] table of the config file.
Output lines are logged at info (stdout) and error (stderr); a timeout or
failing exit makes taskexec fail with the command's exit code.

Examples:
  taskexec exec build --config=taskexec.toml
  taskexec exec build --api-url=http://remote:8080/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Exec(*f, args[0])
		},
	}
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 0, "request timeout (0 waits for the run)")
	return cmd
}

func createSpawnCommand(c *command, f *SpawnFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spawn [flags] -- COMMAND [ARGS...]",
		Short: "Start a detached command and print its PID",
		Long: `Start a command in its own session and return immediately.
The command is not supervised: it has no timeout and its output is discarded.

Examples:
  taskexec spawn -- ./long-job.sh
  taskexec spawn --dir=/srv --shell="nohup ./worker &"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Spawn(*f, args)
		},
	}
	cmd.Flags().StringVar(&f.Shell, "shell", "", "shell-form command line instead of ARGS")
	cmd.Flags().StringVar(&f.WorkDir, "dir", "", "working directory")
	cmd.Flags().StringSliceVar(&f.EnvKVs, "env", nil, "KEY=VALUE environment overrides (repeatable)")
	return cmd
}

func createCommandsCommand(c *command, f *ListFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List configured commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Commands(*f)
		},
	}
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

func createPsCommand(c *command, f *ListFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List processes a running daemon is supervising",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Ps(*f)
		},
	}
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	if err := cmd.MarkFlagRequired("api-url"); err != nil {
		panic(err)
	}
	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the taskexec daemon",
		Long: `Start the HTTP API that runs commands on request.
All configuration is loaded from the config file.

Examples:
  taskexec serve --config=taskexec.toml
  taskexec serve taskexec.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.global.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return c.Serve(cmd.Context(), path)
		},
	}
}

func createHashPasswordCommand(c *command) *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password PASSWORD",
		Short: "Print the bcrypt hash of a password for [[server.auth.users]]",
		Long: `Print the bcrypt hash of a password for use as password_hash in the
[[server.auth.users]] table of the config file.

Remote commands authenticate with TASKEXEC_API_TOKEN, or with
TASKEXEC_API_USER and TASKEXEC_API_PASSWORD.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.HashPassword(args[0], cost)
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (0 uses the default)")
	return cmd
}
