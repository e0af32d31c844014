package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/climatecredit/credit-engine/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and validate scoring policies",
}

var policyShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Print the effective policy as YAML",
	Long:  "Prints the policy at path, else the configured policy.path, else the built-in policy.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := policy.Load(policyPath(args))
		if err != nil {
			return err
		}
		data, err := p.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check that a policy file loads and its weight tables sum to 1",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := policyPath(args)
		p, err := policy.Load(path)
		if err != nil {
			return err
		}
		if path == "" {
			path = "built-in"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "policy %s (%s): ok, %d purposes, %d seasons\n",
			p.Version, path, len(p.Purposes), len(p.Seasons))
		return nil
	},
}

func policyPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if cfg != nil {
		return cfg.Policy.Path
	}
	return ""
}

func init() {
	policyCmd.AddCommand(policyShowCmd, policyValidateCmd)
	rootCmd.AddCommand(policyCmd)
}
