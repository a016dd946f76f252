package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"twitch-chat-relay/model"
)

// BatchConfig задаёт параметры батчинга для вставки сообщений.
type BatchConfig struct {
	MaxBatch      int
	FlushEvery    time.Duration
	ChanBuffer    int
	StatsLogEvery time.Duration
	FlushTimeout  time.Duration
}

// Batcher асинхронно вставляет сообщения чата через pgx.Batch.
type Batcher struct {
	input   chan model.ChatMessage
	config  BatchConfig
	sender  batchSender
	logger  *slog.Logger
	dropped atomic.Uint64
	done    chan struct{}
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertChatMessage = `
insert into chat_messages (
  message_id, channel, channel_id, user_id, username, display_name, text, badges, color, sent_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
on conflict (message_id) do nothing;`

// Enqueue пытается добавить сообщение в очередь; при переполнении возвращает false.
func (b *Batcher) Enqueue(msg model.ChatMessage) bool {
	select {
	case b.input <- msg:
		return true
	default:
		dropped := b.dropped.Add(1)
		if dropped%100 == 0 {
			b.logger.Warn("батчер: очередь заполнена", "dropped_total", dropped)
		}
		return false
	}
}

// Dropped возвращает число сообщений, отброшенных из-за переполнения.
func (b *Batcher) Dropped() uint64 {
	return b.dropped.Load()
}

// Done закрывается после финального флаша при отмене контекста.
func (b *Batcher) Done() <-chan struct{} {
	return b.done
}

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)

	flushTicker := time.NewTicker(b.config.FlushEvery)
	statsTicker := time.NewTicker(b.config.StatsLogEvery)
	defer flushTicker.Stop()
	defer statsTicker.Stop()

	var (
		batch            = &pgx.Batch{}
		pending          = 0
		totalInserted    uint64
		intervalInserted uint64
	)

	flush := func() {
		if pending == 0 {
			return
		}

		dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.FlushTimeout)
		defer cancel()

		br := b.sender.SendBatch(dbCtx, batch)
		if err := br.Close(); err != nil {
			b.logger.Error("батчер: ошибка флаша", "pending", pending, "error", err)
		}

		totalInserted += uint64(pending)
		intervalInserted += uint64(pending)

		batch = &pgx.Batch{}
		pending = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			b.logger.Info("батчер: контекст отменён", "inserted_total", totalInserted)
			return
		case <-flushTicker.C:
			flush()
		case <-statsTicker.C:
			b.logger.Info("батчер: статистика",
				"inserted", intervalInserted, "interval", b.config.StatsLogEvery, "inserted_total", totalInserted)
			intervalInserted = 0
		case msg := <-b.input:
			badgesJSON, _ := json.Marshal(msg.UserBadges)
			batch.Queue(insertChatMessage,
				msg.MessageID, msg.Channel, ptr(msg.ChannelID), msg.User.UserID, msg.User.UserName,
				ptr(msg.User.DisplayName), msg.Message, badgesJSON, msg.NicknameColor.Hex(), msg.SentAt.UTC(),
			)
			pending++
			if pending >= b.config.MaxBatch {
				flush()
			}
		}
	}
}

// ptr превращает пустую строку в NULL.
func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newBatcher(ctx context.Context, sender batchSender, cfg BatchConfig, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Batcher{
		input:  make(chan model.ChatMessage, cfg.ChanBuffer),
		config: cfg,
		sender: sender,
		logger: logger,
		done:   make(chan struct{}),
	}

	go b.run(ctx)

	return b
}
