package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/channels"
	"github.com/HKUDS/surveybot-go/pkg/config"
	"github.com/HKUDS/surveybot-go/pkg/cron"
	"github.com/HKUDS/surveybot-go/pkg/dialogue"
	"github.com/HKUDS/surveybot-go/pkg/gateway"
	"github.com/HKUDS/surveybot-go/pkg/logging"
	"github.com/HKUDS/surveybot-go/pkg/metrics"
	"github.com/HKUDS/surveybot-go/pkg/script"
	"github.com/HKUDS/surveybot-go/pkg/survey"
	"github.com/spf13/cobra"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the survey bot and its HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	workspace := expandPath(cfg.Workspace)
	logFile, err := logging.Setup(filepath.Join(workspace, "logs"))
	if err != nil {
		return err
	}
	defer logFile.Close()

	sc, err := script.LoadOrDefault(expandPath(cfg.Survey.ScriptPath))
	if err != nil {
		return fmt.Errorf("load survey script: %w", err)
	}

	collector := metrics.NewCollector()
	tracker := survey.NewTracker(survey.NewMemoryStore(), survey.WithObserver(collector))
	messageBus := bus.NewMessageBus()
	defer messageBus.Stop()

	cronService := cron.NewService(filepath.Join(workspace, "cron.json"), dialogue.RestartJobHandler(messageBus))

	controller := dialogue.NewController(tracker, sc, messageBus)
	controller.Scheduler = cronService
	controller.Report = dialogue.Target{
		Channel: cfg.Survey.ReportChannel,
		ChatID:  cfg.Survey.ReportChatID,
	}

	manager := channels.NewManager(messageBus)
	manager.OnDelivered = controller.Delivered
	manager.OnFailed = func(msg bus.OutboundMessage, err error) {
		collector.SendFailed(msg.Channel)
	}
	registerChannels(manager, cfg, messageBus)

	started := manager.StartAll()
	if len(started) == 0 {
		log.Println("No channels started; only the gateway is available")
	} else {
		log.Printf("Channels started: %v", started)
	}
	defer manager.StopAll()

	cronService.Start()
	defer cronService.Stop()
	scheduled, err := cronService.ScheduleCampaigns(campaigns(cfg.Survey.Campaigns))
	if err != nil {
		return fmt.Errorf("schedule campaigns: %w", err)
	}
	for _, job := range scheduled {
		log.Printf("Scheduled %s (job %s)", job.Name, job.ID)
	}

	go messageBus.DispatchOutbound()
	go dialogue.NewLoop(messageBus, controller).Run(ctx)

	opts := []gateway.Option{
		gateway.WithMetrics(collector.Handler()),
		gateway.WithChannels(manager.Has),
		gateway.WithSurveys(tracker.List),
	}
	for _, wh := range manager.Webhooks() {
		opts = append(opts, gateway.WithWebhook(wh.WebhookPath(), wh))
	}
	server := gateway.NewServer(messageBus, opts...)

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	return server.ListenAndServe(ctx, addr)
}

// registerChannels adds every enabled channel to the manager.
func registerChannels(m *channels.Manager, cfg *config.Config, messageBus *bus.MessageBus) {
	ch := &cfg.Channels
	if ch.Telegram.Enabled {
		m.Register(channels.NewTelegramChannel(&ch.Telegram, messageBus))
	}
	if ch.Discord.Enabled {
		m.Register(channels.NewDiscordChannel(&ch.Discord, messageBus))
	}
	if ch.Feishu.Enabled {
		m.Register(channels.NewFeishuChannel(&ch.Feishu, messageBus))
	}
	if ch.DingTalk.Enabled {
		m.Register(channels.NewDingTalkChannel(&ch.DingTalk, messageBus))
	}
	if ch.Workplace.Enabled {
		m.Register(channels.NewWorkplaceChannel(&ch.Workplace, messageBus))
	}
}

// campaigns converts validated campaign config into cron schedules.
func campaigns(cfgs []config.CampaignConfig) []cron.Campaign {
	out := make([]cron.Campaign, 0, len(cfgs))
	for _, c := range cfgs {
		schedule := cron.Schedule{Kind: cron.KindCron, Expr: c.Cron}
		if c.Cron == "" {
			every, _ := c.Interval()
			schedule = cron.Schedule{Kind: cron.KindEvery, EveryMs: every.Milliseconds()}
		}
		out = append(out, cron.Campaign{Channel: c.Channel, ChatID: c.ChatID, Schedule: schedule})
	}
	return out
}
