package agent_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/cluekeeper/internal/agent"
	"github.com/MrWong99/cluekeeper/internal/archive"
	"github.com/MrWong99/cluekeeper/internal/discovery"
	"github.com/MrWong99/cluekeeper/internal/prompt"
	"github.com/MrWong99/cluekeeper/internal/resident"
	"github.com/MrWong99/cluekeeper/internal/scenario"
	"github.com/MrWong99/cluekeeper/pkg/provider/llm"
	llmmock "github.com/MrWong99/cluekeeper/pkg/provider/llm/mock"
	"github.com/MrWong99/cluekeeper/pkg/types"
)

func newDiscoverAgent(t *testing.T, p *llmmock.Provider, opts ...agent.Option) *agent.DiscoverAgent {
	t.Helper()
	a, err := agent.NewDiscoverAgent("s1", agent.DefaultScenario(), p, opts...)
	if err != nil {
		t.Fatalf("NewDiscoverAgent: %v", err)
	}
	return a
}

func TestNewDiscoverAgent_Validation(t *testing.T) {
	p := &llmmock.Provider{}
	if _, err := agent.NewDiscoverAgent("", agent.DefaultScenario(), p); err == nil {
		t.Error("expected error for empty id")
	}
	if _, err := agent.NewDiscoverAgent("s", scenario.Definition{}, p); !errors.Is(err, agent.ErrInvalidScenario) {
		t.Errorf("err = %v, want ErrInvalidScenario", err)
	}
	if _, err := agent.NewDiscoverAgent("s", agent.DefaultScenario(), nil); err == nil {
		t.Error("expected error for nil provider")
	}
}

func TestNewDiscoverAgent_SeedsScenarioPrompt(t *testing.T) {
	a := newDiscoverAgent(t, &llmmock.Provider{})
	conv := a.Conversation()
	if len(conv) != 1 || conv[0].Role != types.RoleSystem {
		t.Fatalf("expected a single system message, got %+v", conv)
	}
	for _, want := range []string{"You are a factory foreman agent.", "production_rate", "120", prompt.NotSpecificEnough} {
		if !strings.Contains(conv[0].Content, want) {
			t.Errorf("system prompt is missing %q", want)
		}
	}
}

func TestDiscoverAgent_Ask(t *testing.T) {
	p := &llmmock.Provider{Responses: []string{`"defect_rate": 8`, "Our defect rate sits at 8%."}}
	a := newDiscoverAgent(t, p)

	res, err := a.Ask(context.Background(), "What is the defect rate?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if res.Response != "Our defect rate sits at 8%." {
		t.Errorf("response = %q", res.Response)
	}
	if !slices.Equal(res.Discoveries, []string{"defect_rate"}) || !slices.Equal(res.Newly, []string{"defect_rate"}) {
		t.Errorf("discoveries = %v, newly = %v", res.Discoveries, res.Newly)
	}
	if !res.Status.Metrics["defect_rate"] || res.Status.Metrics["production_rate"] {
		t.Errorf("unexpected status: %+v", res.Status)
	}
	if res.AllDiscovered {
		t.Error("AllDiscovered should be false")
	}

	calls := p.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected primary and explain turns, got %d calls", len(calls))
	}
	primary, explain := calls[0].Req, calls[1].Req
	if primary.MaxTokens != 256 || !primary.Sample || len(primary.Messages) != 2 {
		t.Errorf("unexpected primary request: %+v", primary)
	}
	if explain.MaxTokens != 512 || explain.Sample || explain.Temperature != 0.1 {
		t.Errorf("unexpected explain request: %+v", explain)
	}
	if len(explain.Messages) != 1 || explain.Messages[0].Role != types.RoleUser {
		t.Fatalf("explain turn should be a single user message, got %+v", explain.Messages)
	}
	body := explain.Messages[0].Content
	if !strings.Contains(body, `"defect_rate": 8`) {
		t.Error("explain prompt should embed the primary output")
	}
	if !strings.Contains(body, "- Metrics: []") {
		t.Error("explain prompt should list what was discussed before this turn")
	}

	conv := a.Conversation()
	if len(conv) != 3 || conv[2].Role != types.RoleAssistant || conv[2].Content != res.Response {
		t.Errorf("explanation should be the assistant turn, got %+v", conv)
	}
}

func TestDiscoverAgent_ExplainListsEarlierDiscoveries(t *testing.T) {
	p := &llmmock.Provider{Responses: []string{
		`"defect_rate": 8`, "Defects are at 8%.",
		`"production_rate": 120`, "We make 120 widgets an hour.",
	}}
	a := newDiscoverAgent(t, p)
	ctx := context.Background()

	for _, q := range []string{"defect rate?", "production rate?"} {
		if _, err := a.Ask(ctx, q); err != nil {
			t.Fatalf("Ask(%q): %v", q, err)
		}
	}
	body := p.Calls()[3].Req.Messages[0].Content
	if !strings.Contains(body, "- Metrics: [defect_rate]") {
		t.Errorf("second explain prompt should list defect_rate only:\n%s", body)
	}
}

func TestDiscoverAgent_PrimaryFailure(t *testing.T) {
	p := &llmmock.Provider{Errs: []error{errors.New("backend down")}}
	a := newDiscoverAgent(t, p)

	res, err := a.Ask(context.Background(), "What is the defect rate?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if res.Response != agent.Apology {
		t.Errorf("response = %q, want apology", res.Response)
	}
	if len(res.Discoveries) != 0 || len(res.Newly) != 0 {
		t.Errorf("failed turn must not disclose anything: %+v", res)
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("explain turn should be skipped, got %d calls", n)
	}
	if conv := a.Conversation(); len(conv) != 2 || conv[1].Role != types.RoleUser {
		t.Errorf("only the user turn should be recorded, got %+v", conv)
	}
}

func TestDiscoverAgent_RepeatedPrimaryFailuresStackUserTurns(t *testing.T) {
	boom := errors.New("backend down")
	p := &llmmock.Provider{
		Errs:      []error{boom, boom},
		Responses: []string{"", "", `"defect_rate": 8`, "Defects are at 8%."},
	}
	a := newDiscoverAgent(t, p)
	ctx := context.Background()

	for _, q := range []string{"defects?", "defect rate?"} {
		if res, err := a.Ask(ctx, q); err != nil || res.Response != agent.Apology {
			t.Fatalf("Ask(%q) = %+v, %v, want apology", q, res, err)
		}
	}
	if _, err := a.Ask(ctx, "What is the defect rate?"); err != nil {
		t.Fatal(err)
	}

	calls := p.Calls()
	if len(calls) != 4 {
		t.Fatalf("got %d calls, want 4", len(calls))
	}
	var roles []types.Role
	for _, m := range calls[2].Req.Messages {
		roles = append(roles, m.Role)
	}
	want := []types.Role{types.RoleSystem, types.RoleUser, types.RoleUser, types.RoleUser}
	if !slices.Equal(roles, want) {
		t.Errorf("primary window roles = %v, want %v", roles, want)
	}
}

func TestDiscoverAgent_ExplainFailure(t *testing.T) {
	p := &llmmock.Provider{
		Responses: []string{`"defect_rate": 8`},
		Errs:      []error{nil, errors.New("backend down")},
	}
	a := newDiscoverAgent(t, p)

	res, err := a.Ask(context.Background(), "What is the defect rate?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if res.Response != agent.Apology {
		t.Errorf("response = %q, want apology", res.Response)
	}
	if !slices.Equal(res.Newly, []string{"defect_rate"}) {
		t.Errorf("primary disclosures should still count, newly = %v", res.Newly)
	}
	if !a.Status().Metrics["defect_rate"] {
		t.Error("defect_rate should be discovered")
	}
	if conv := a.Conversation(); len(conv) != 2 {
		t.Errorf("no assistant turn expected, got %+v", conv)
	}
}

func TestDiscoverAgent_StrictParseError(t *testing.T) {
	p := &llmmock.Provider{Responses: []string{"QUESTION NOT SPECIFIC ENOUGH"}}
	a := newDiscoverAgent(t, p, agent.WithDetector(discovery.JSONFragment{Strict: true}))

	_, err := a.Ask(context.Background(), "Tell me everything")
	if !errors.Is(err, discovery.ErrDisclosureParse) {
		t.Fatalf("err = %v, want ErrDisclosureParse", err)
	}
}

func TestDiscoverAgent_LenientJSONDetector(t *testing.T) {
	p := &llmmock.Provider{Responses: []string{`"worker_productivity": 25`, "Each worker makes 25 widgets an hour."}}
	a := newDiscoverAgent(t, p, agent.WithDetector(discovery.JSONFragment{WrapBare: true}))

	res, err := a.Ask(context.Background(), "How productive are workers?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !slices.Equal(res.Newly, []string{"worker_productivity"}) {
		t.Errorf("newly = %v", res.Newly)
	}
}

func TestDiscoverAgent_ModelLoadFailurePropagates(t *testing.T) {
	p := &llmmock.Provider{Err: fmt.Errorf("swap: %w", resident.ErrModelLoadFailed)}
	a := newDiscoverAgent(t, p)

	if _, err := a.Ask(context.Background(), "q"); !errors.Is(err, resident.ErrModelLoadFailed) {
		t.Fatalf("err = %v, want ErrModelLoadFailed", err)
	}
}

func TestDiscoverAgent_EmptyQuestion(t *testing.T) {
	a := newDiscoverAgent(t, &llmmock.Provider{})
	if _, err := a.Ask(context.Background(), " "); !errors.Is(err, agent.ErrEmptyQuestion) {
		t.Fatalf("err = %v, want ErrEmptyQuestion", err)
	}
}

func TestDiscoverAgent_AllDiscoveredIsMonotonic(t *testing.T) {
	p := &llmmock.Provider{Responses: []string{
		`"production_rate_target": 150`, "explained",
		`"defect_rate": 8`, "explained",
		`"worker_productivity": 25`, "explained",
		"QUESTION NOT SPECIFIC ENOUGH", "explained",
	}}
	a := newDiscoverAgent(t, p)
	ctx := context.Background()

	var results []*agent.Result
	for i := range 4 {
		res, err := a.Ask(ctx, fmt.Sprintf("question %d", i))
		if err != nil {
			t.Fatalf("Ask %d: %v", i, err)
		}
		results = append(results, res)
	}
	if results[1].AllDiscovered {
		t.Error("not everything is discovered after two turns")
	}
	if !results[2].AllDiscovered || !results[3].AllDiscovered {
		t.Error("AllDiscovered should hold once every variable is disclosed and stay true")
	}
	if len(a.Discovered()) != 4 {
		t.Errorf("discovered = %v", a.Discovered())
	}
}

func TestDiscoverAgent_WindowBounded(t *testing.T) {
	p := &llmmock.Provider{Responses: []string{"QUESTION NOT SPECIFIC ENOUGH"}}
	a := newDiscoverAgent(t, p)
	ctx := context.Background()

	for i := range 6 {
		if _, err := a.Ask(ctx, fmt.Sprintf("question %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	// The sixth primary turn sees 12 stored messages.
	msgs := p.Calls()[10].Req.Messages
	if len(msgs) != 10 {
		t.Fatalf("window length = %d, want 10", len(msgs))
	}
	if msgs[0].Role != types.RoleSystem {
		t.Error("window must keep the system message first")
	}
	if last := msgs[len(msgs)-1]; last.Role != types.RoleUser || last.Content != "question 5" {
		t.Errorf("last message = %+v", last)
	}
	if msgs[1].Content != "question 1" {
		t.Errorf("oldest kept message = %q, want question 1", msgs[1].Content)
	}
}

func TestDiscoverAgent_GenerationTimeout(t *testing.T) {
	p := &llmmock.Provider{Hook: func(ctx context.Context, _ llm.CompletionRequest) {
		<-ctx.Done()
	}}
	a := newDiscoverAgent(t, p, agent.WithGenerationTimeout(20*time.Millisecond))

	res, err := a.Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if res.Response != agent.Apology {
		t.Errorf("response = %q, want apology", res.Response)
	}
}

func TestDiscoverAgent_CallerCancelPropagates(t *testing.T) {
	p := &llmmock.Provider{Hook: func(ctx context.Context, _ llm.CompletionRequest) {
		<-ctx.Done()
	}}
	a := newDiscoverAgent(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.Ask(ctx, "q"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestDiscoverAgent_TurnsAreSerialised(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	p := &llmmock.Provider{
		Responses: []string{"QUESTION NOT SPECIFIC ENOUGH"},
		Hook: func(context.Context, llm.CompletionRequest) {
			entered <- struct{}{}
			<-release
		},
	}
	a := newDiscoverAgent(t, p)
	ctx := context.Background()

	errc := make(chan error, 2)
	for i := range 2 {
		go func() {
			_, err := a.Ask(ctx, fmt.Sprintf("q%d", i))
			errc <- err
		}()
	}

	<-entered
	select {
	case <-entered:
		t.Fatal("second turn started while the first was generating")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	for range 2 {
		if err := <-errc; err != nil {
			t.Fatal(err)
		}
	}
	if n := len(a.Conversation()); n != 5 {
		t.Errorf("conversation length = %d, want 5", n)
	}
}

func TestDiscoverAgent_ArchivesExchange(t *testing.T) {
	store := archive.NewMemoryStore()
	p := &llmmock.Provider{Responses: []string{`"defect_rate": 8`, "Defects are at 8%."}}
	a := newDiscoverAgent(t, p, agent.WithArchive(store))
	ctx := context.Background()

	if _, err := a.Ask(ctx, "defects?"); err != nil {
		t.Fatal(err)
	}
	hist, err := store.History(ctx, archive.FlowDiscover, "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Response != "Defects are at 8%." || !slices.Equal(hist[0].Discoveries, []string{"defect_rate"}) {
		t.Errorf("unexpected history: %+v", hist)
	}
}
