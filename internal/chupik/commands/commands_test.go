package commands_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/devdenneg/chupik/internal/chupik/commands"
	"github.com/devdenneg/chupik/internal/chupik/knowledge"
	"github.com/devdenneg/chupik/internal/chupik/memory"
	"github.com/devdenneg/chupik/internal/chupik/mood"
	"github.com/devdenneg/chupik/internal/chupik/settings"
	"github.com/devdenneg/chupik/internal/chupik/stats"
)

var t0 = time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC)

type fixture struct {
	router *commands.Router
	deps   commands.Deps
}

func newFixture() *fixture {
	deps := commands.Deps{
		Knowledge: knowledge.NewStore(knowledge.DefaultConfig(), nil),
		Memory:    memory.NewStore(memory.DefaultConfig()),
		Moods:     mood.NewEngine(mood.DefaultConfig(), nil),
		Settings:  settings.NewRegistry(settings.Defaults(), nil),
		Stats:     stats.NewTracker(nil),
	}
	r := commands.NewRouter("/")
	commands.Register(r, deps)
	return &fixture{router: r, deps: deps}
}

func alice() commands.Request {
	return commands.Request{ConversationID: "room1", SenderID: "@alice:example.org", SenderName: "alice", At: t0}
}

func bob() commands.Request {
	return commands.Request{ConversationID: "room1", SenderID: "@bob:example.org", SenderName: "bob", At: t0}
}

func (f *fixture) run(t *testing.T, text string, req commands.Request) string {
	t.Helper()
	reply, err := f.router.Route(context.Background(), text, req)
	if err != nil {
		t.Fatalf("Route(%q): %v", text, err)
	}
	return reply
}

func TestParse(t *testing.T) {
	router := commands.NewRouter("/")

	tests := []struct {
		input    string
		wantName string
		wantArgs []string
		wantRaw  string
		wantErr  error
	}{
		{input: "/help", wantName: "help", wantArgs: []string{}},
		{input: "  /LEARN pizza | Bob likes it ", wantName: "learn", wantArgs: []string{"pizza", "|", "Bob", "likes", "it"}, wantRaw: "pizza | Bob likes it"},
		{input: "/mood@chupik", wantName: "mood", wantArgs: []string{}},
		{input: "/forget_rule 2", wantName: "forget_rule", wantArgs: []string{"2"}, wantRaw: "2"},
		{input: "hello there", wantErr: commands.ErrNotACommand},
		{input: "/", wantErr: errors.New("empty command")},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := router.Parse(tt.input)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("expected error, got %+v", cmd)
				}
				if errors.Is(tt.wantErr, commands.ErrNotACommand) && !errors.Is(err, commands.ErrNotACommand) {
					t.Fatalf("err = %v, want ErrNotACommand", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", cmd.Name, tt.wantName)
			}
			if strings.Join(cmd.Args, ",") != strings.Join(tt.wantArgs, ",") {
				t.Errorf("Args = %v, want %v", cmd.Args, tt.wantArgs)
			}
			if cmd.RawArgs != tt.wantRaw {
				t.Errorf("RawArgs = %q, want %q", cmd.RawArgs, tt.wantRaw)
			}
		})
	}
}

func TestRoute_UnknownCommand(t *testing.T) {
	f := newFixture()
	_, err := f.router.Route(context.Background(), "/dance", alice())
	if !errors.Is(err, commands.ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
}

func TestHelp_ListsEveryCommand(t *testing.T) {
	f := newFixture()
	reply := f.run(t, "/help", alice())
	for _, name := range []string{"/learn", "/forget", "/facts", "/rules", "/forget_rule", "/mood", "/settings", "/set", "/stats", "/clear", "/myinfo"} {
		if !strings.Contains(reply, name) {
			t.Errorf("help is missing %s:\n%s", name, reply)
		}
	}
}

func TestLearnAndForget(t *testing.T) {
	f := newFixture()

	if reply := f.run(t, "/learn pizza", alice()); !strings.HasPrefix(reply, "Usage:") {
		t.Errorf("missing separator: reply = %q, want usage", reply)
	}
	if reply := f.run(t, "/learn Pizza | Bob loves pineapple", alice()); !strings.Contains(reply, `"pizza"`) {
		t.Errorf("learn reply = %q", reply)
	}
	if got := f.deps.Knowledge.FactsFor("pizza"); len(got) != 1 || got[0].ContributorName != "alice" {
		t.Fatalf("facts = %+v", got)
	}

	if reply := f.run(t, "/forget pizza", bob()); !strings.Contains(reply, "Only the person") {
		t.Errorf("forget by non-contributor = %q", reply)
	}
	if reply := f.run(t, "/forget pasta", alice()); !strings.Contains(reply, "don't know anything") {
		t.Errorf("forget missing key = %q", reply)
	}
	if reply := f.run(t, "/forget pizza", alice()); !strings.Contains(reply, "Forgotten") {
		t.Errorf("forget = %q", reply)
	}
	if n := f.deps.Knowledge.TotalFacts(); n != 0 {
		t.Errorf("TotalFacts = %d, want 0", n)
	}
}

func TestFacts(t *testing.T) {
	f := newFixture()
	if reply := f.run(t, "/facts", alice()); !strings.Contains(reply, "don't know anything") {
		t.Errorf("empty store reply = %q", reply)
	}

	ctx := context.Background()
	f.deps.Knowledge.AddFact(ctx, "pizza", "Bob loves pineapple pizza", "@alice:example.org", "alice", t0)
	f.deps.Knowledge.AddFact(ctx, "tea", "Carol drinks green tea", "@bob:example.org", "bob", t0.Add(time.Minute))

	reply := f.run(t, "/facts", alice())
	if !strings.Contains(reply, "2 facts under 2 keys") {
		t.Errorf("stats line missing:\n%s", reply)
	}
	if strings.Index(reply, "[tea]") > strings.Index(reply, "[pizza]") {
		t.Errorf("latest facts should be newest first:\n%s", reply)
	}

	reply = f.run(t, "/facts pizza", alice())
	if !strings.Contains(reply, "[pizza]") || strings.Contains(reply, "[tea]") {
		t.Errorf("search reply:\n%s", reply)
	}
	if reply := f.run(t, "/facts sushi", alice()); !strings.Contains(reply, "Nothing found") {
		t.Errorf("search miss = %q", reply)
	}
}

func TestRulesKeepOriginalNumbers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for _, text := range []string{"never swear", "always rhyme", "stop using emoji"} {
		f.deps.Knowledge.AddRule(ctx, "room1", text, "@alice:example.org", "alice", t0)
	}

	if reply := f.run(t, "/forget_rule 2", alice()); !strings.Contains(reply, "Rule 2 removed") {
		t.Fatalf("forget_rule = %q", reply)
	}
	reply := f.run(t, "/rules", alice())
	if !strings.Contains(reply, "1. never swear") || !strings.Contains(reply, "3. stop using emoji") {
		t.Errorf("rules should keep numbers 1 and 3:\n%s", reply)
	}
	if strings.Contains(reply, "always rhyme") {
		t.Errorf("removed rule still listed:\n%s", reply)
	}

	for _, in := range []string{"/forget_rule 2", "/forget_rule 9"} {
		if reply := f.run(t, in, alice()); !strings.Contains(reply, "no rule number") {
			t.Errorf("%s = %q", in, reply)
		}
	}
	for _, in := range []string{"/forget_rule", "/forget_rule zero", "/forget_rule 0"} {
		if reply := f.run(t, in, alice()); !strings.HasPrefix(reply, "Usage:") {
			t.Errorf("%s = %q, want usage", in, reply)
		}
	}
}

func TestSetAndSettings(t *testing.T) {
	f := newFixture()

	tests := []struct {
		input string
		want  string
	}{
		{"/set style playful", "style: playful"},
		{"/set persona a grumpy pirate", "persona: a grumpy pirate"},
		{"/set silence_timeout 30", "silence_timeout: 30m"},
		{"/set style loud", "Invalid value"},
		{"/set colour red", "Unknown setting"},
		{"/set", "Usage:"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if reply := f.run(t, tt.input, alice()); !strings.Contains(reply, tt.want) {
				t.Errorf("reply = %q, want it to contain %q", reply, tt.want)
			}
		})
	}

	got := f.deps.Settings.Get("room1")
	if got.ResponseStyle != settings.StylePlayful || got.CustomPersona != "a grumpy pirate" {
		t.Errorf("settings = %+v", got)
	}
	if reply := f.run(t, "/settings", alice()); !strings.Contains(reply, "style: playful") {
		t.Errorf("/settings = %q", reply)
	}
}

func TestMood(t *testing.T) {
	f := newFixture()
	reply := f.run(t, "/mood", alice())
	if !strings.Contains(reply, "neutral") || !strings.Contains(reply, "medium") {
		t.Errorf("/mood = %q", reply)
	}
}

func TestStats(t *testing.T) {
	f := newFixture()
	if reply := f.run(t, "/stats", alice()); !strings.Contains(reply, "No messages") {
		t.Errorf("empty stats = %q", reply)
	}

	ctx := context.Background()
	f.deps.Stats.Record(ctx, "room1", "@bob:example.org", t0)
	f.deps.Stats.Record(ctx, "room1", "@bob:example.org", t0)
	f.deps.Stats.Record(ctx, "room1", "@alice:example.org", t0)
	f.deps.Knowledge.SetProfileField(ctx, "@bob:example.org", knowledge.FieldName, "Bob", "bob", t0)

	reply := f.run(t, "/stats", alice())
	if !strings.Contains(reply, "3 messages") {
		t.Errorf("total missing:\n%s", reply)
	}
	if !strings.Contains(reply, "1. Bob: 2") || !strings.Contains(reply, "2. @alice:example.org: 1") {
		t.Errorf("ranking wrong:\n%s", reply)
	}
}

func TestClear(t *testing.T) {
	f := newFixture()
	f.deps.Memory.Append("room1", memory.Message{Role: memory.RoleUser, Content: "hi", Sender: "alice", Timestamp: t0})

	f.run(t, "/clear", alice())
	if got := f.deps.Memory.History("room1", t0); len(got) != 0 {
		t.Errorf("history after /clear = %+v", got)
	}
}

func TestMyInfo(t *testing.T) {
	f := newFixture()
	if reply := f.run(t, "/myinfo", alice()); !strings.Contains(reply, "don't know anything about you") {
		t.Errorf("empty profile = %q", reply)
	}

	ctx := context.Background()
	f.deps.Knowledge.SetProfileField(ctx, "@alice:example.org", knowledge.FieldCity, "Lisbon", "alice", t0)
	if reply := f.run(t, "/myinfo", alice()); !strings.Contains(reply, "City: Lisbon") {
		t.Errorf("/myinfo = %q", reply)
	}
	if reply := f.run(t, "/myinfo", bob()); strings.Contains(reply, "Lisbon") {
		t.Errorf("bob sees alice's profile: %q", reply)
	}
}
