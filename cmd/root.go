// SPDX-License-Identifier: MIT

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/PoliticalSphere/validate-ci/checks"
	"github.com/PoliticalSphere/validate-ci/githubclient"
	"github.com/PoliticalSphere/validate-ci/parser"
	"github.com/PoliticalSphere/validate-ci/policy"
	"github.com/PoliticalSphere/validate-ci/report"
	"github.com/PoliticalSphere/validate-ci/utils"
	"github.com/PoliticalSphere/validate-ci/workspace"
)

// Variables to hold build information, populated at build time.
var (
	Version string
	Date    string
	Commit  string
	BuiltBy string

	verbose bool
	quiet   bool
)

// errAlreadyReported signals a failure whose diagnostics are already on
// stderr; Execute exits 1 without printing it again.
var errAlreadyReported = errors.New("validation failed")

func init() {
	rootCmd.Version = utils.BuildVersion(Version, Commit, Date, BuiltBy)
	rootCmd.SetVersionTemplate(`{{printf "Version %s" .Version}}`)
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-file scanning lines")
}

// Execute runs the root command and maps its outcome to the process exit
// code. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errAlreadyReported) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "validate-ci [workspace]",
	Short:        "validate-ci gates CI workflow definitions against the platform policy corpus.",
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !quiet {
			quiet = utils.EnvTruthy(os.Getenv("PS_VALIDATE_CI_QUIET"))
		}
		utils.CreateLogger(verbose, quiet)

		workspaceArg := ""
		if len(args) > 0 {
			workspaceArg = args[0]
		}
		return run(cmd.Context(), workspaceArg)
	},
}

func run(ctx context.Context, workspaceArg string) error {
	ciMode := utils.EnvTruthy(os.Getenv("CI"))

	roots, err := workspace.Resolve(workspaceArg, os.Getenv("PS_PLATFORM_ROOT"))
	if err != nil {
		return fatal(err)
	}

	policies, err := policy.Load(policy.Options{
		PlatformRoot:   roots.Platform,
		RootConfigPath: os.Getenv("PS_VALIDATE_CI_CONFIG"),
	})
	if err != nil {
		return fatal(err)
	}

	workflows, err := workspace.DiscoverWorkflows(roots.Workspace)
	if err != nil {
		return fatal(err)
	}
	if len(workflows) == 0 {
		if ciMode {
			return fatal(fmt.Errorf("no workflow files found under %s", filepath.Join(roots.Workspace, ".github", "workflows")))
		}
		utils.Logger.Info("No workflow files found; nothing to validate")
	}

	actions, err := workspace.DiscoverActions(roots.Platform)
	if err != nil {
		return fatal(err)
	}

	if utils.EnvTruthy(os.Getenv("PS_VALIDATE_CI_PR_ONLY")) {
		pr := workspace.PRRange{
			Base: os.Getenv("PS_PR_BASE_SHA"),
			Head: os.Getenv("PS_PR_HEAD_SHA"),
		}
		var filtered bool
		workflows, filtered = workspace.FilterToPRDiff(ctx, roots.Workspace, workflows, pr)
		if filtered {
			if roots.Platform == roots.Workspace {
				actions, _ = workspace.FilterToPRDiff(ctx, roots.Workspace, actions, pr)
			}
			utils.Logger.Infof("PR-only mode: %d workflow file(s) in range %s..%s", len(workflows), pr.Base, pr.Head)
		} else {
			utils.Logger.Warn("PR-only mode requested but PR range could not be resolved; scanning everything")
		}
	}

	verifier := buildVerifier(ctx, ciMode)
	engine := checks.NewEngine(roots.Workspace, policies, verifier)

	violations := scanWorkflows(ctx, engine, roots.Workspace, workflows)
	violations = append(violations, scanActions(ctx, engine, roots.Platform, actions)...)

	rep := report.Build(violations, policies.ScoreFailThreshold)

	reportPath := os.Getenv("PS_VALIDATE_CI_REPORT")
	if reportPath == "" {
		reportPath = report.DefaultPath(roots.Workspace)
	}
	if err := report.Write(reportPath, rep); err != nil {
		utils.Logger.Warnf("Could not write report: %v", err)
	}

	if rep.Failed() {
		report.PrintFailure(os.Stderr, rep)
		return errAlreadyReported
	}
	report.PrintSuccess(os.Stderr, rep)
	return nil
}

// buildVerifier wires the remote SHA verifier according to the env knobs.
// Client construction failure downgrades to bypass rather than aborting
// the scan.
func buildVerifier(ctx context.Context, ciMode bool) checks.ReferenceVerifier {
	enabled := true
	if v, ok := os.LookupEnv("PS_VALIDATE_CI_VERIFY_REMOTE"); ok {
		enabled = utils.EnvTruthy(v)
	}
	if !enabled {
		return githubclient.NewVerifier(nil, githubclient.VerifierOptions{Enabled: false})
	}

	token := os.Getenv("GH_TOKEN")
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	client, err := githubclient.NewClient(githubclient.ClientOptions{Token: token, CIMode: ciMode})
	if err != nil {
		utils.Logger.Warnf("GitHub client unavailable, remote verification degraded: %v", err)
		client = nil
	}
	if ciMode {
		githubclient.CheckRateLimit(ctx, client)
	}
	return githubclient.NewVerifier(client, githubclient.VerifierOptions{Enabled: true, Strict: ciMode})
}

// scanWorkflows parses the workflow files in parallel and evaluates the
// rule families sequentially in discovery order, so violation ordering is
// deterministic.
func scanWorkflows(ctx context.Context, engine *checks.Engine, workspaceRoot string, relPaths []string) []checks.Violation {
	parsed := make([]*parser.Workflow, len(relPaths))

	p := pool.New().WithMaxGoroutines(runtime.NumCPU())
	for i, rel := range relPaths {
		p.Go(func() {
			data, err := os.ReadFile(filepath.Join(workspaceRoot, filepath.FromSlash(rel))) //nolint:gosec
			if err != nil {
				utils.Logger.Warnf("Could not read %s: %v", rel, err)
				return
			}
			parsed[i] = parser.Parse(rel, data)
		})
	}
	p.Wait()

	var violations []checks.Violation
	for i, rel := range relPaths {
		wf := parsed[i]
		if wf == nil {
			continue
		}
		utils.Logger.Infof("Scanning %s", rel)
		for _, w := range wf.Warnings {
			utils.Logger.Debugf("%s:%d [%s] %s", rel, w.Line, w.Code, w.Message)
		}
		violations = append(violations, engine.CheckWorkflow(ctx, wf, rel)...)
	}
	return violations
}

// scanActions validates every composite action definition in discovery
// order.
func scanActions(ctx context.Context, engine *checks.Engine, platformRoot string, relPaths []string) []checks.Violation {
	var violations []checks.Violation
	for _, rel := range relPaths {
		data, err := os.ReadFile(filepath.Join(platformRoot, filepath.FromSlash(rel))) //nolint:gosec
		if err != nil {
			utils.Logger.Warnf("Could not read %s: %v", rel, err)
			continue
		}
		utils.Logger.Infof("Scanning %s", rel)
		violations = append(violations, engine.CheckActionFile(ctx, rel, data)...)
	}
	return violations
}

// fatal reports a configuration error in the contract form and signals
// exit 1.
func fatal(err error) error {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	return errAlreadyReported
}
