package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/cluekeeper/internal/agent"
	"github.com/MrWong99/cluekeeper/internal/app"
	"github.com/MrWong99/cluekeeper/internal/config"
	"github.com/MrWong99/cluekeeper/internal/discovery"
)

var rule = strings.Repeat("=", 80)

func newPlayCmd(configPath *string) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play the configured discover scenario in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			// The terminal belongs to the game; only problems are logged.
			level := config.LogWarn
			if verbose {
				level = config.LogDebug
			}
			logger, _ := newLogger(level)
			slog.SetDefault(logger)

			ctx := cmd.Context()
			reg := config.NewRegistry()
			app.RegisterBuiltinProviders(reg)
			application, err := app.New(ctx, cfg, reg)
			if err != nil {
				return fmt.Errorf("initialise application: %w", err)
			}
			defer application.Shutdown(context.Background())

			def, err := application.DefaultScenario()
			if err != nil {
				return err
			}
			sess, err := application.Sessions().Create(agent.DefaultSessionID, def)
			if err != nil {
				return err
			}
			return play(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	return cmd
}

// play runs the question loop until the player types exit, input ends or
// every variable is discovered. A failed question is reported and the loop
// continues.
func play(ctx context.Context, sess *agent.DiscoverAgent, in io.Reader, out io.Writer) error {
	def := sess.Definition()
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Scenario: %s\n", def.Scenario.Description)
	fmt.Fprintf(out, "You are talking to the %s.\n", def.Persona.Title)
	fmt.Fprintln(out, rule)
	fmt.Fprintln(out, "Ask questions to discover metrics, targets and hidden modifiers.")
	fmt.Fprintln(out, "Type 'status' to see what you have discovered so far.")
	fmt.Fprintln(out, "Type 'exit' to end the session.")
	fmt.Fprintln(out, rule)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYour question: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit":
			return nil
		case "status":
			printStatus(out, sess.Status())
			continue
		}

		res, err := sess.Ask(ctx, line)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, discovery.ErrDisclosureParse) {
				return err
			}
			fmt.Fprintf(out, "\nError: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\nAgent response:\n%s\n", res.Response)

		if res.AllDiscovered {
			fmt.Fprintf(out, "\n%s\nCongratulations! You've discovered all hidden information!\n%s\n", rule, rule)
			return nil
		}
	}
}

func printStatus(out io.Writer, st discovery.Status) {
	fmt.Fprintln(out, "\nDiscovery Status:")
	groups := []struct {
		label string
		items map[string]bool
	}{
		{"Metrics", st.Metrics},
		{"Targets", st.Targets},
		{"Modifiers", st.Modifiers},
	}
	for _, g := range groups {
		if len(g.items) == 0 {
			continue
		}
		var found []string
		for name, ok := range g.items {
			if ok {
				found = append(found, name)
			}
		}
		slices.Sort(found)
		fmt.Fprintf(out, "  %s: %d discovered, %d remaining\n", g.label, len(found), len(g.items)-len(found))
		if len(found) > 0 {
			fmt.Fprintf(out, "    Discovered: %s\n", strings.Join(found, ", "))
		}
	}
}
