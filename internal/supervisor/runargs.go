package supervisor

// SafeFlag caps block transfer at one block per request. Running with
// it avoids peer bans inside the configured height ranges.
const SafeFlag = "--max-blocks-per-request=1"

// RunArgs is everything needed to spawn the node. Rebuilt on every
// (re)start; never mutated in place.
type RunArgs struct {
	Chain          string
	RewardsAddress string
	Binary         string
	BasePath       string
	NodeKeyFile    string
	ExtraArgs      []string
	LogToFile      bool
}

// Argv builds the node's command line.
func (a RunArgs) Argv() []string {
	argv := []string{"--chain", a.Chain}
	if a.BasePath != "" {
		argv = append(argv, "--base-path", a.BasePath)
	}
	if a.RewardsAddress != "" {
		argv = append(argv, "--rewards-address", a.RewardsAddress)
	}
	if a.NodeKeyFile != "" {
		argv = append(argv, "--node-key-file", a.NodeKeyFile)
	}
	return append(argv, a.ExtraArgs...)
}

// WithSafeFlag returns a copy with the restrictive flag present or
// absent. Idempotent: any existing occurrence is stripped first, so
// repeated application never stacks flags.
func (a RunArgs) WithSafeFlag(enabled bool) RunArgs {
	out := a
	out.ExtraArgs = make([]string, 0, len(a.ExtraArgs)+1)
	for _, f := range a.ExtraArgs {
		if f == SafeFlag {
			continue
		}
		out.ExtraArgs = append(out.ExtraArgs, f)
	}
	if enabled {
		out.ExtraArgs = append(out.ExtraArgs, SafeFlag)
	}
	return out
}

// SafeFlagSet reports whether the restrictive flag is in the args.
func (a RunArgs) SafeFlagSet() bool {
	for _, f := range a.ExtraArgs {
		if f == SafeFlag {
			return true
		}
	}
	return false
}

func (a RunArgs) clone() RunArgs {
	out := a
	out.ExtraArgs = append([]string(nil), a.ExtraArgs...)
	return out
}
