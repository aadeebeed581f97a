package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/any-hub/imgcache/internal/version"
)

const configEnvVar = "IMGCACHE_CONFIG"

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// exitError 携带子命令希望返回的退出码。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func failf(format string, args ...any) error {
	return &exitError{code: 1, err: fmt.Errorf(format, args...)}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 执行 CLI 并返回退出码，方便测试。参数解析失败返回 2，业务失败返回 1。
func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		return 2
	}
	return 0
}

// rootOptions 汇总全局标志。
type rootOptions struct {
	configFlag string
}

// configPath 结合 --config 与环境变量计算最终的配置路径。
func (o *rootOptions) configPath() string {
	if o.configFlag != "" {
		return o.configFlag
	}
	if env := os.Getenv(configEnvVar); env != "" {
		return env
	}
	return "config.toml"
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "imgcache",
		Short:         "Content-addressed disk cache for remote images",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&opts.configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnvVar+" 覆盖）")

	root.AddCommand(
		newServeCmd(opts),
		newFetchCmd(opts),
		newClearCmd(opts),
		newSweepCmd(opts),
		newSizeCmd(opts),
		newCheckConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}
