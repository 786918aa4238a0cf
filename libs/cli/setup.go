package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	HomeFlag  = "home"
	TraceFlag = "trace"
)

// InitEnv makes viper consult environment variables carrying prefix. Both
// ACPHOME and ACP_HOME spellings are accepted; the former is copied to the
// latter before viper reads the environment.
func InitEnv(prefix string) {
	prefix = strings.ToUpper(prefix)
	ps := prefix + "_"
	for _, e := range os.Environ() {
		kv := strings.SplitN(e, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k, v := kv[0], kv[1]
		if strings.HasPrefix(k, prefix) && !strings.HasPrefix(k, ps) {
			_ = os.Setenv(strings.Replace(k, prefix, ps, 1), v)
		}
	}

	viper.SetEnvPrefix(prefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// BindFlagsLoadViper binds all flags of cmd and reads the config file found
// under the home directory into viper. A missing config file is not an
// error.
func BindFlagsLoadViper(cmd *cobra.Command, args []string) error {
	// cmd.Flags() includes flags from this command and all persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	homeDir := viper.GetString(HomeFlag)
	viper.Set(HomeFlag, homeDir)
	viper.SetConfigName("config")
	viper.AddConfigPath(homeDir)
	viper.AddConfigPath(filepath.Join(homeDir, "config"))

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return err
	}
	return nil
}

// RunWithArgs executes cmd with the given arguments and environment, then
// restores os.Args and every variable it touched. args[0] is the program
// name. It is meant for tests and for embedding the CLI.
func RunWithArgs(ctx context.Context, cmd *cobra.Command, args []string, env map[string]string) (err error) {
	oargs := os.Args
	oenv := make(map[string]*string, len(env))
	for k, v := range env {
		if old, ok := os.LookupEnv(k); ok {
			oenv[k] = &old
		} else {
			oenv[k] = nil
		}
		if serr := os.Setenv(k, v); serr != nil {
			return serr
		}
	}
	defer func() {
		os.Args = oargs
		for k, v := range oenv {
			if v == nil {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, *v)
			}
		}
	}()

	os.Args = args
	cmd.SetArgs(args[1:])
	return cmd.ExecuteContext(ctx)
}

// Execute runs cmd and exits with a non-zero status on error. With --trace
// the error is printed with %+v.
func Execute(ctx context.Context, cmd *cobra.Command) {
	if err := cmd.ExecuteContext(ctx); err != nil {
		if viper.GetBool(TraceFlag) {
			fmt.Fprintf(os.Stderr, "ERROR: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
		os.Exit(1)
	}
}
