package cmd

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"saltapi/internal/authz"
	"saltapi/internal/backend"
	"saltapi/internal/proposal"
)

var (
	rolesProposal string
	rolesCan      string
	rolesHas      string
	rolesClientIP string
)

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.Flags().StringVar(&rolesProposal, "proposal", "", "Resolve proposal-scoped roles for this proposal code")
	rolesCmd.Flags().StringVar(&rolesCan, "can", "", "Comma-separated permissions to check (SUBMIT_PROPOSAL, VIEW_PROPOSAL, UPDATE_STATUS)")
	rolesCmd.Flags().StringVar(&rolesHas, "has", "", "Comma-separated roles to check")
	rolesCmd.Flags().StringVar(&rolesClientIP, "client-ip", "", "Client address for network-gated permissions")
}

type checkResult struct {
	Kind    string `json:"kind" yaml:"kind"`
	Name    string `json:"name" yaml:"name"`
	Granted bool   `json:"granted" yaml:"granted"`
}

type rolesOutput struct {
	Username     string        `json:"username" yaml:"username"`
	ProposalCode string        `json:"proposal_code,omitempty" yaml:"proposal_code,omitempty"`
	Roles        []authz.Role  `json:"roles" yaml:"roles"`
	Checks       []checkResult `json:"checks,omitempty" yaml:"checks,omitempty"`
}

var rolesCmd = &cobra.Command{
	Use:   "roles <username>",
	Short: "Print the roles resolved for a user",
	Long: `Print the roles the API would resolve for a user, in resolution order,
and optionally check permissions and roles by name.

Examples:
  saltctl roles jdoe
  saltctl roles jdoe --proposal 2021-1-SCI-017 -o json
  saltctl roles jdoe --proposal 2021-1-SCI-017 --can VIEW_PROPOSAL --has PRINCIPAL_INVESTIGATOR
  saltctl roles jdoe --can UPDATE_STATUS --client-ip 10.1.2.3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var code *proposal.Code
		if rolesProposal != "" {
			c, err := proposal.Validate(rolesProposal)
			if err != nil {
				return err
			}
			code = &c
		}
		var perms []authz.Permission
		for _, name := range splitNames(rolesCan) {
			p, err := authz.ParsePermission(name)
			if err != nil {
				return err
			}
			perms = append(perms, p)
		}
		var wanted []authz.Role
		for _, name := range splitNames(rolesHas) {
			r, err := authz.ParseRole(name)
			if err != nil {
				return err
			}
			wanted = append(wanted, r)
		}
		var addr netip.Addr
		if rolesClientIP != "" {
			a, err := netip.ParseAddr(rolesClientIP)
			if err != nil {
				return fmt.Errorf("client-ip: %w", err)
			}
			addr = a
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		trusted, err := cfg.ParseTrustedNetworks()
		if err != nil {
			return fmt.Errorf("trusted_networks: %w", err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		stores, err := backend.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer stores.Close()

		username := args[0]
		user, err := stores.Identity.FindUserByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("user %q: %w", username, err)
		}
		svc := authz.NewService(
			authz.NewResolver(authz.NewPredicates(stores.Identity)),
			authz.NewAuthorizer(trusted),
		)
		out := rolesOutput{
			Username:     username,
			ProposalCode: rolesProposal,
			Roles:        svc.Roles(ctx, user, code),
		}
		for _, p := range perms {
			ok, err := svc.Can(ctx, user, p, authz.Request{ProposalCode: code, ClientIP: addr})
			if err != nil {
				return err
			}
			out.Checks = append(out.Checks, checkResult{Kind: "permission", Name: p.String(), Granted: ok})
		}
		for _, r := range wanted {
			out.Checks = append(out.Checks, checkResult{Kind: "role", Name: r.String(), Granted: authz.HasRole(out.Roles, r)})
		}

		return formatOutput(cmd.OutOrStdout(), out, func(w io.Writer) error {
			if len(out.Roles) == 0 {
				if _, err := fmt.Fprintln(w, "(no roles)"); err != nil {
					return err
				}
			}
			for _, r := range out.Roles {
				if _, err := fmt.Fprintln(w, r); err != nil {
					return err
				}
			}
			for _, c := range out.Checks {
				verdict := "denied"
				if c.Granted {
					verdict = "granted"
				}
				if _, err := fmt.Fprintf(w, "%s %s: %s\n", c.Kind, c.Name, verdict); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func splitNames(list string) []string {
	var out []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
