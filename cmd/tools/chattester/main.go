package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/voyage/backend/internal/analysis/failure"
	"github.com/zhouzirui/voyage/backend/internal/analysis/intent"
	"github.com/zhouzirui/voyage/backend/internal/config"
	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	"github.com/zhouzirui/voyage/backend/internal/service/reply"
	"github.com/zhouzirui/voyage/backend/internal/service/search"
	"github.com/zhouzirui/voyage/backend/internal/service/session"
	"github.com/zhouzirui/voyage/backend/internal/service/voice"
	"github.com/zhouzirui/voyage/backend/internal/storage/kv"
	"github.com/zhouzirui/voyage/backend/pkg/logging"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "repl", "测试模式: search 或 repl")
	text := flag.String("text", "", "search 模式下的用户输入")
	resume := flag.String("session", "", "repl 模式下恢复的 sessionID，留空则新建")
	timeout := flag.Duration("timeout", cfg.Pipeline.SearchTimeout, "search 模式的请求超时时间")
	flag.Parse()

	client := search.NewClient(cfg.Widget.APIURL, nil)

	switch *mode {
	case "search":
		runSearch(client, cfg, *text, *timeout)
	case "repl":
		runREPL(client, cfg, *resume)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=search 或 -mode=repl 指定测试模式")
	}
}

// runSearch 解析一句话并直接调用航班搜索接口
func runSearch(client *search.Client, cfg *config.Config, text string, timeout time.Duration) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("search 模式需要通过 -text 指定用户输入")
	}

	defaults := session.ConfigFrom(cfg).Defaults
	query := intent.ExtractFlightQuery(text, defaults, time.Now())
	log.Printf("意图=%s 查询=%s→%s 日期=%s 乘客=%d",
		intent.Classify(text), query.Origin, query.Destination, query.DepartureDate, query.Passengers)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	started := time.Now()
	result, err := client.SearchFlights(ctx, query)
	if err != nil {
		kind := failure.FromError(err)
		log.Fatalf("搜索失败 (%s): %v\n%s", kind, err, failure.UserMessage(kind))
	}

	log.Printf("搜索完成，耗时 %s，共 %d 个航班", time.Since(started).Round(time.Millisecond), len(result.OutboundFlights))
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		log.Fatalf("输出结果失败: %v", err)
	}
}

// runREPL 在终端里驱动一个完整会话。/start 和 /end 控制通话，/clear 清空记录，/quit 退出。
func runREPL(client *search.Client, cfg *config.Config, resume string) {
	logger := logging.New(cfg.LogLevel)

	composer, err := reply.NewComposer(context.Background(), nil, logger)
	if err != nil {
		log.Fatalf("创建回复生成器失败: %v", err)
	}

	sessions, err := session.NewService(session.ConfigFrom(cfg), session.Dependencies{
		Persistence: kv.NewMemoryStore(),
		Searcher:    client,
		Cache:       client,
		Composer:    composer,
		VoiceFactory: func(sessionID string) voice.Client {
			if cfg.Voice.SDKURL == "" || !cfg.Widget.VoiceEnabled() {
				return voice.NewDisabledClient()
			}
			return voice.NewWSClient(voice.WSOptions{URL: cfg.Voice.SDKURL, PublicKey: cfg.Widget.PublicKey}, logger)
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("创建会话服务失败: %v", err)
	}
	defer sessions.Close()

	handle, err := sessions.CreateSession(context.Background(), resume)
	if err != nil {
		log.Fatalf("创建会话失败: %v", err)
	}
	log.Printf("会话已创建: %s", handle.ID())

	changes, stopWatch := handle.Watch()
	defer stopWatch()
	go printTranscript(handle, changes)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		ctx := context.Background()

		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/start":
			if err := handle.StartCall(ctx); err != nil {
				log.Printf("开始通话失败: %v", err)
			}
		case "/end":
			if err := handle.EndCall(ctx); err != nil {
				log.Printf("结束通话失败: %v", err)
			}
		case "/clear":
			if err := handle.Clear(ctx); err != nil {
				log.Printf("清空记录失败: %v", err)
			}
		case "/state":
			s := handle.Session()
			log.Printf("state=%s lastError=%s", s.State, s.LastErrorKind)
		default:
			if _, err := handle.Submit(line); err != nil {
				log.Printf("提交失败: %v", err)
			}
		}
	}
}

func printTranscript(handle *session.Handle, changes <-chan struct{}) {
	var printed int64 = -1
	for range changes {
		for _, m := range handle.Messages() {
			if m.Sequence <= printed {
				continue
			}
			if !m.Ephemeral {
				printed = m.Sequence
			}
			fmt.Printf("[%s] %s\n", label(m), m.Text)
		}
	}
}

func label(m chat.Message) string {
	if m.Ephemeral {
		return "..."
	}
	return string(m.Role)
}
