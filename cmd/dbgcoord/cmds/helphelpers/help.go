package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare prepares cmd flag set for the invocation of its help function by
// hiding flags that we want cobra to parse but we don't want to show to the
// user.
// The logging and listen flags live on the root command so that they can
// be given before the subcommand name, but they only affect 'dap'.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "dbgcoord", "help", "log", "version":
		hideAllFlags(cmd)
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	if p := cmd.Parent(); p != nil {
		p.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
			flag.Hidden = true
		})
	}
}
