package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"brokercrm-backend/internal/llm"
	"brokercrm-backend/internal/shared/telemetry"
	"brokercrm-backend/internal/usage"
)

type fakeChatter struct {
	reply   string
	err     error
	prompt  string
	history []llm.Message
}

func (f *fakeChatter) Chat(ctx context.Context, systemPrompt string, history []llm.Message) (string, error) {
	f.prompt = systemPrompt
	f.history = history
	return f.reply, f.err
}

type modules map[string]bool

func (m modules) HasModule(ctx context.Context, tenantID, module string) bool {
	return m[tenantID+"/"+module]
}

func newService() (*Service, *fakeChatter, *MemoryRepo, *usage.Service) {
	chatter := &fakeChatter{reply: "  Grüezi!  "}
	repo := NewMemoryRepo()
	u := usage.NewService()
	return &Service{
		Repo:    repo,
		Chatter: chatter,
		Usage:   u,
		Modules: modules{"t1/" + ModuleAIAssistant: true},
	}, chatter, repo, u
}

func userMsg(s string) llm.Message { return llm.Message{Role: RoleUser, Content: s} }

func TestReplyVisitorPersistsBySession(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()
	svc, chatter, repo, _ := newService()
	ctx := context.Background()

	first, err := svc.Reply(ctx, Input{Messages: []llm.Message{userMsg("Hallo")}, SessionID: "s1"})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if first.Reply != "Grüezi!" || first.ConversationID == "" {
		t.Fatalf("unexpected result: %+v", first)
	}
	visitorPrompt, _ := llm.SystemPrompt(llm.UserTypeVisitor)
	if chatter.prompt != visitorPrompt {
		t.Fatalf("expected visitor prompt by default")
	}

	second, err := svc.Reply(ctx, Input{
		Messages:  []llm.Message{userMsg("Hallo"), {Role: RoleAssistant, Content: "Grüezi!"}, userMsg("Preise?")},
		SessionID: "s1",
		UserType:  "visitor",
	})
	if err != nil {
		t.Fatalf("second reply: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Fatalf("expected session to resume conversation")
	}
	msgs, _ := repo.Messages(ctx, first.ConversationID)
	if len(msgs) != 4 || msgs[2].Content != "Preise?" || msgs[3].Role != RoleAssistant {
		t.Fatalf("unexpected stored messages: %+v", msgs)
	}
}

func TestReplyKeepsLastTwentyMessages(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()
	svc, chatter, _, _ := newService()

	var msgs []llm.Message
	for i := 0; i < 25; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}
	if _, err := svc.Reply(context.Background(), Input{Messages: msgs}); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if len(chatter.history) != MaxHistory || chatter.history[0].Content != "m5" {
		t.Fatalf("unexpected history window: %d starting %q", len(chatter.history), chatter.history[0].Content)
	}
}

func TestReplyValidation(t *testing.T) {
	svc, _, _, _ := newService()
	ctx := context.Background()

	cases := []struct {
		name string
		in   Input
		want error
	}{
		{name: "no messages", in: Input{}, want: ErrInvalidInput},
		{name: "bad role", in: Input{Messages: []llm.Message{{Role: "system", Content: "x"}}}, want: ErrInvalidInput},
		{name: "empty content", in: Input{Messages: []llm.Message{userMsg("  ")}}, want: ErrInvalidInput},
		{name: "too long", in: Input{Messages: []llm.Message{userMsg(strings.Repeat("a", MaxMessageRunes+1))}}, want: ErrInvalidInput},
		{name: "assistant last", in: Input{Messages: []llm.Message{userMsg("a"), {Role: RoleAssistant, Content: "b"}}}, want: ErrInvalidInput},
		{name: "unknown user type", in: Input{Messages: []llm.Message{userMsg("a")}, UserType: "robot"}, want: ErrInvalidInput},
		{name: "anonymous broker", in: Input{Messages: []llm.Message{userMsg("a")}, UserType: "broker"}, want: ErrUnauthorized},
		{name: "anonymous client", in: Input{Messages: []llm.Message{userMsg("a")}, UserType: "client"}, want: ErrUnauthorized},
		{name: "broker without module", in: Input{Messages: []llm.Message{userMsg("a")}, UserType: "broker", UserID: "u2", TenantID: "t2"}, want: ErrModuleDisabled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Reply(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestReplyBrokerCountsUsage(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()
	svc, chatter, _, u := newService()
	ctx := context.Background()

	res, err := svc.Reply(ctx, Input{Messages: []llm.Message{userMsg("Offene Policen?")}, UserType: "broker", UserID: "u1", TenantID: "t1"})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	brokerPrompt, _ := llm.SystemPrompt(llm.UserTypeBroker)
	if chatter.prompt != brokerPrompt {
		t.Fatalf("expected broker prompt")
	}
	counters, _ := u.Get(ctx, "t1", "")
	if len(counters) != 1 || counters[0].Metric != usage.MetricAIChatMessages {
		t.Fatalf("unexpected usage: %+v", counters)
	}

	// Another user cannot continue the conversation.
	_, err = svc.Reply(ctx, Input{Messages: []llm.Message{userMsg("x")}, UserType: "broker", UserID: "u9", TenantID: "t1", ConversationID: res.ConversationID})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for foreign conversation, got %v", err)
	}
}

func TestReplyModelErrorNotPersisted(t *testing.T) {
	defer telemetry.SetOutput(io.Discard)()
	svc, chatter, repo, _ := newService()
	chatter.err = llm.ErrRateLimited

	_, err := svc.Reply(context.Background(), Input{Messages: []llm.Message{userMsg("a")}, SessionID: "s1"})
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if _, err := repo.LatestBySession(context.Background(), "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("nothing should be stored, got %v", err)
	}
}
