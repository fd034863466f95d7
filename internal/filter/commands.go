package filter

import (
	"context"
	"fmt"
	"strings"

	"tgqqbridge/internal/models"
	"tgqqbridge/internal/stats"
)

// StatsSource provides the counters rendered by the stats command.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

// QueueSource provides retry queue depth for the status command.
type QueueSource interface {
	QueueStats(ctx context.Context) (*models.QueueStats, error)
}

// Command is a parsed prefix command.
type Command struct {
	Name string
	Args []string
}

// Processor tokenizes and executes prefix commands. A message consumed as
// a command is never forwarded.
type Processor struct {
	prefix   string
	keywords *KeywordFilter
	stats    StatsSource
	queue    QueueSource
}

func NewProcessor(prefix string, keywords *KeywordFilter, statsSource StatsSource, queue QueueSource) *Processor {
	if prefix == "" {
		prefix = "!"
	}
	return &Processor{
		prefix:   prefix,
		keywords: keywords,
		stats:    statsSource,
		queue:    queue,
	}
}

// Prefix returns the configured command prefix.
func (p *Processor) Prefix() string {
	return p.prefix
}

// Parse extracts a command from a message body. Returns (cmd, true) when
// the body starts with the prefix, even if the remainder is empty.
func (p *Processor) Parse(body string) (Command, bool) {
	if !strings.HasPrefix(body, p.prefix) {
		return Command{}, false
	}

	rest := strings.TrimSpace(strings.TrimPrefix(body, p.prefix))
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return Command{}, true
	}

	return Command{
		Name: strings.ToLower(fields[0]),
		Args: fields[1:],
	}, true
}

// Execute runs a command and returns the response text for the origin
// platform. Unknown commands return the help text.
func (p *Processor) Execute(ctx context.Context, cmd Command) string {
	switch cmd.Name {
	case "ping":
		return "pong!"
	case "status":
		return p.statusText(ctx)
	case "stats":
		return p.statsText()
	case "help", "":
		return p.helpText()
	case "filter":
		return p.filterCommand(cmd.Args)
	default:
		return fmt.Sprintf("未知命令: %s\n%s", cmd.Name, p.helpText())
	}
}

func (p *Processor) statusText(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("✅ 机器人运行正常")

	if p.queue != nil {
		if qs, err := p.queue.QueueStats(ctx); err == nil {
			fmt.Fprintf(&b, "\n重试队列: 总计 %d, 等待 %d, 处理中 %d", qs.Total, qs.Pending, qs.Processing)
		}
	}

	return b.String()
}

func (p *Processor) statsText() string {
	s := p.stats.Snapshot()
	return strings.TrimSpace(fmt.Sprintf(`📊 同步统计:
• Telegram接收: %d
• QQ接收: %d
• Telegram发送: %d
• QQ发送: %d
• 已过滤: %d
• 前缀过滤: %d
• 命令处理: %d
• 同步率: %.2f%%`,
		s.TelegramReceived, s.QQReceived, s.TelegramSent, s.QQSent,
		s.Filtered, s.PrefixFiltered, s.CommandsProcessed, s.SyncRate))
}

func (p *Processor) helpText() string {
	return strings.TrimSpace(fmt.Sprintf(`🤖 可用命令:
%[1]sping - 测试机器人连通性
%[1]sstatus - 查看机器人状态
%[1]sstats - 查看同步统计
%[1]shelp - 显示此帮助信息
%[1]sfilter [add|remove|list] [关键词] - 管理消息过滤`, p.prefix))
}

func (p *Processor) filterCommand(args []string) string {
	if len(args) == 0 {
		return fmt.Sprintf("用法: %sfilter [add|remove|list] [关键词]", p.prefix)
	}

	action := strings.ToLower(args[0])

	switch action {
	case "list":
		keywords := p.keywords.List()
		if len(keywords) == 0 {
			return "没有设置过滤关键词"
		}
		return fmt.Sprintf("当前过滤关键词: %s", strings.Join(keywords, ", "))

	case "add":
		if len(args) < 2 {
			return fmt.Sprintf("用法: %sfilter add [关键词]", p.prefix)
		}
		keyword := args[1]
		if p.keywords.Add(keyword) {
			return fmt.Sprintf("已添加过滤关键词: %s", keyword)
		}
		return fmt.Sprintf("关键词已存在: %s", keyword)

	case "remove":
		if len(args) < 2 {
			return fmt.Sprintf("用法: %sfilter remove [关键词]", p.prefix)
		}
		keyword := args[1]
		if p.keywords.Remove(keyword) {
			return fmt.Sprintf("已移除过滤关键词: %s", keyword)
		}
		return fmt.Sprintf("关键词不存在: %s", keyword)

	default:
		return "无效的操作，请使用 add/remove/list"
	}
}
