package connector

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/cnap-oss/codefleet/internal/storage"
)

// Discord embed 색상
const (
	colorGreen = 0x33cc33
	colorRed   = 0xcc3333
	colorBlue  = 0x0099ff
	colorGray  = 0x999999
)

// Discord embed 길이 제한
const (
	maxDescription = 4096
	maxFieldValue  = 1024
)

// PostFunc sends one embed to the notification channel.
type PostFunc func(embed *discordgo.MessageEmbed) error

// Session은 Discord 봇 세션과 알림 채널입니다.
type Session struct {
	dg        *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// OpenSession은 봇 토큰으로 Discord에 연결합니다.
func OpenSession(token, channelID string, logger *zap.Logger) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("connector: discord token not set")
	}
	if channelID == "" {
		return nil, fmt.Errorf("connector: discord channel not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("connector: create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Info("Discord session ready", zap.String("user", r.User.Username))
	})

	if err := dg.Open(); err != nil {
		return nil, fmt.Errorf("connector: open discord connection: %w", err)
	}
	return &Session{dg: dg, channelID: channelID, logger: logger}, nil
}

// Post implements PostFunc for the session's channel.
func (s *Session) Post(embed *discordgo.MessageEmbed) error {
	_, err := s.dg.ChannelMessageSendEmbed(s.channelID, embed)
	return err
}

// Close는 Discord 연결을 종료합니다.
func (s *Session) Close() error {
	s.logger.Info("Stopping connector server")
	return s.dg.Close()
}

// Embed renders an activity event as a Discord embed.
func Embed(ev storage.ActivityEvent) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       eventTitle(ev.EventType),
		Description: truncate(ev.Message, maxDescription),
		Color:       eventColor(ev.EventType),
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "agent " + ev.AgentID},
	}

	if ev.TaskID != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Task", Value: *ev.TaskID, Inline: true})
	}
	if ev.DurationMS != nil {
		d := time.Duration(*ev.DurationMS) * time.Millisecond
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "소요 시간", Value: d.Round(time.Second).String(), Inline: true})
	}
	if ev.TokensUsed != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "토큰", Value: fmt.Sprintf("%d", *ev.TokensUsed), Inline: true})
	}
	if ev.CostUSD != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "비용", Value: fmt.Sprintf("$%.4f", *ev.CostUSD), Inline: true})
	}
	if len(ev.FilesChanged) > 0 {
		files := truncate(strings.Join(ev.FilesChanged, "\n"), maxFieldValue-8)
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "변경된 파일", Value: "```\n" + files + "\n```"})
	}
	return embed
}

func eventTitle(eventType string) string {
	switch eventType {
	case storage.EventTaskCompleted:
		return "✅ Task 완료"
	case storage.EventTaskFailed:
		return "❌ Task 실패"
	case storage.EventAgentStarted:
		return "🟢 Agent 시작"
	case storage.EventAgentStopped:
		return "⚪ Agent 종료"
	}
	return eventType
}

func eventColor(eventType string) int {
	switch eventType {
	case storage.EventTaskCompleted, storage.EventAgentStarted:
		return colorGreen
	case storage.EventTaskFailed, storage.EventError:
		return colorRed
	case storage.EventAgentStopped:
		return colorGray
	}
	return colorBlue
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
