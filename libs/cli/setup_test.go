package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCmd(got *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "acptest",
		PersistentPreRunE: BindFlagsLoadViper,
		RunE: func(cmd *cobra.Command, args []string) error {
			*got = viper.GetString("moniker")
			return nil
		},
	}
	cmd.PersistentFlags().String(HomeFlag, "", "home")
	cmd.Flags().String("moniker", "default", "moniker")
	return cmd
}

func TestBindFlagsLoadViper(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "config"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(home, "config", "config.toml"),
		[]byte("moniker = \"from-file\"\n"), 0600))

	cases := []struct {
		name string
		args []string
		env  map[string]string
		want string
	}{
		{"no config", []string{"acptest", "--home", t.TempDir()}, nil, "default"},
		{"config file", []string{"acptest", "--home", home}, nil, "from-file"},
		{"flag wins", []string{"acptest", "--home", home, "--moniker", "flag"}, nil, "flag"},
		{"env wins", []string{"acptest", "--home", home}, map[string]string{"ACPTEST_MONIKER": "env"}, "env"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			InitEnv("ACPTEST")

			var got string
			err := RunWithArgs(context.Background(), newTestCmd(&got), tc.args, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInitEnvCopiesUnprefixedForm(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("ACPTESTHOME", "/tmp/acp-home")
	t.Cleanup(func() { _ = os.Unsetenv("ACPTEST_HOME") })

	InitEnv("acptest")
	assert.Equal(t, "/tmp/acp-home", os.Getenv("ACPTEST_HOME"))
	assert.Equal(t, "/tmp/acp-home", viper.GetString(HomeFlag))
}

func TestRunWithArgsRestoresEnv(t *testing.T) {
	const key = "ACPTEST_RESTORE"
	require.NoError(t, os.Unsetenv(key))

	cmd := &cobra.Command{
		Use: "acptest",
		RunE: func(cmd *cobra.Command, args []string) error {
			assert.Equal(t, "set", os.Getenv(key))
			return nil
		},
	}
	require.NoError(t, RunWithArgs(context.Background(), cmd, []string{"acptest"}, map[string]string{key: "set"}))

	_, ok := os.LookupEnv(key)
	assert.False(t, ok)
}
