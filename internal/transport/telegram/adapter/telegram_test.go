package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"badgewatch/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "newline boundary", in: long, limit: 40, want: []string{strings.Repeat("a", 30), strings.Repeat("b", 30)}},
		{name: "hard cut", in: strings.Repeat("x", 25), limit: 10, want: []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}},
		{name: "html tag kept whole", in: "abcdef<b>bold</b>", limit: 8, parseMode: "HTML", want: []string{"abcdef", "<b>bold", "</b>"}},
		{name: "multibyte", in: "ююююю", limit: 2, want: []string{"юю", "юю", "ю"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitTelegramText(tt.in, tt.limit, tt.parseMode)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("splitTelegramText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToMessage(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		ID:     7,
		Text:   "/set a b",
		Chat:   &tele.Chat{ID: 100, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: 100, Username: "alice"},
	}
	got := toMessage(m)
	want := transport.Message{ID: 7, ChatID: 100, FromID: 100, FromUsername: "alice", Text: "/set a b", IsPrivate: true}
	if *got != want {
		t.Fatalf("toMessage() = %+v, want %+v", *got, want)
	}

	group := toMessage(&tele.Message{ID: 1, Chat: &tele.Chat{ID: -5, Type: tele.ChatGroup}})
	if group.IsPrivate || group.FromID != 0 {
		t.Fatalf("toMessage(group) = %+v", *group)
	}
}

func TestMenuHashStable(t *testing.T) {
	t.Parallel()

	a := []transport.BotCommand{{Command: "set", Description: "configure"}, {Command: "reset"}}
	b := []transport.BotCommand{{Command: "set", Description: "configure"}, {Command: "reset"}}
	if menuHash(a) != menuHash(b) {
		t.Fatalf("menuHash differs for equal lists")
	}
	b[1].Description = "stop"
	if menuHash(a) == menuHash(b) {
		t.Fatalf("menuHash equal for different lists")
	}
}
