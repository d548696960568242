package cmd

import (
	"context"
	"fmt"
	"strconv"

	"energy-sched/internal/admin"
	"energy-sched/internal/logging"

	"github.com/spf13/cobra"
)

type policyOptions struct {
	container    string
	energyPolicy int
	normalPolicy int
}

func newManageCommand() *cobra.Command {
	var opts policyOptions

	manageCmd := &cobra.Command{
		Use:   "manage [pid]",
		Short: "Move every thread of a process into the energy scheduling class",
		Long:  "Move every thread of a process into the energy scheduling class. A pid of 0 or no pid at all selects energy-sched itself unless --container is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changePolicy(cmd.Context(), args, opts, (*admin.Manager).Start)
		},
	}
	addPolicyFlags(manageCmd, &opts)
	return manageCmd
}

func newUnmanageCommand() *cobra.Command {
	var opts policyOptions

	unmanageCmd := &cobra.Command{
		Use:   "unmanage [pid]",
		Short: "Return every thread of a process to the normal scheduling class",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changePolicy(cmd.Context(), args, opts, (*admin.Manager).Stop)
		},
	}
	addPolicyFlags(unmanageCmd, &opts)
	return unmanageCmd
}

func addPolicyFlags(cmd *cobra.Command, opts *policyOptions) {
	cmd.Flags().StringVar(&opts.container, "container", "", "Resolve the process from a Docker container name or ID")
	cmd.Flags().IntVar(&opts.energyPolicy, "energy-policy", admin.DefaultEnergyPolicy, "Policy number of the energy class")
	cmd.Flags().IntVar(&opts.normalPolicy, "normal-policy", admin.DefaultNormalPolicy, "Policy number of the normal class")
}

func changePolicy(ctx context.Context, args []string, opts policyOptions, apply func(*admin.Manager, int) error) error {
	if opts.energyPolicy == opts.normalPolicy {
		return fmt.Errorf("energy and normal policy must differ (both %d)", opts.energyPolicy)
	}

	pid, err := resolvePID(ctx, args, opts.container)
	if err != nil {
		return err
	}

	manager := admin.NewManager(admin.NewProcFS(), admin.SyscallPolicy{},
		admin.WithPolicies(opts.energyPolicy, opts.normalPolicy),
		admin.WithLogger(logging.Component("admin")))
	return apply(manager, pid)
}

// resolvePID returns the pid given on the command line or the init process
// of the named container.
func resolvePID(ctx context.Context, args []string, container string) (int, error) {
	if container != "" {
		if len(args) != 0 {
			return 0, fmt.Errorf("give either a pid or --container, not both")
		}
		resolver, err := admin.NewDockerResolver()
		if err != nil {
			return 0, fmt.Errorf("failed to connect to Docker: %w", err)
		}
		defer resolver.Close()

		pid, err := resolver.PID(ctx, container)
		if err != nil {
			return 0, fmt.Errorf("container %s: %w", container, err)
		}
		return pid, nil
	}

	if len(args) == 0 {
		return 0, nil
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid pid %q: %w", args[0], admin.ErrInvalidPID)
	}
	return pid, nil
}
