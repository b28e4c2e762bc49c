package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const viperKeyAnnotation = "viper-key"

// bindKey marks flag name as the command-line override of config key. The
// binding happens once the running command is known, since several
// subcommands declare flags for the same key.
func bindKey(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, viperKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

// bindFlags binds the annotated flags of the running command into viper.
func (c *cli) bindFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[viperKeyAnnotation]
		if !ok || err != nil {
			return
		}
		err = c.v.BindPFlag(keys[0], f)
	})
	return err
}
